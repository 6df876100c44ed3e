package relay

// Mode — состояние передачи чата: бот отвечает сам или ведёт оператор.
type Mode int

const (
	BotHandled Mode = iota
	HumanHandled
)

func modeOf(humanEnabled bool) Mode {
	if humanEnabled {
		return HumanHandled
	}
	return BotHandled
}

func (m Mode) HumanEnabled() bool { return m == HumanHandled }

func (m Mode) String() string {
	if m == HumanHandled {
		return "human"
	}
	return "bot"
}

type Trigger int

const (
	TriggerOperatorEnable Trigger = iota
	TriggerOperatorDisable
	TriggerEscalation
)

// Next возвращает состояние после trigger и признак того, что переход применим.
// Эскалация действует только из BotHandled; вернуть бота может лишь оператор.
func (m Mode) Next(t Trigger) (Mode, bool) {
	switch t {
	case TriggerOperatorEnable:
		return HumanHandled, true
	case TriggerOperatorDisable:
		return BotHandled, true
	case TriggerEscalation:
		if m == BotHandled {
			return HumanHandled, true
		}
	}
	return m, false
}
