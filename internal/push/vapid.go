package push

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/chatrelay/internal/logger"
)

// VAPIDKeys — пара ключей Web Push.
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func (k *VAPIDKeys) Valid() bool {
	return k != nil && k.PublicKey != "" && k.PrivateKey != ""
}

// EnsureVAPIDKeys читает ключи из path; если файла нет или он пуст, генерирует новую пару
// и пытается сохранить её. Ошибка сохранения не мешает использовать сгенерированные ключи.
func EnsureVAPIDKeys(path string) (*VAPIDKeys, error) {
	if path == "" {
		return nil, errors.New("push: empty VAPID keys path")
	}
	if keys, err := loadVAPIDKeys(path); err == nil && keys.Valid() {
		return keys, nil
	}
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, err
	}
	keys := &VAPIDKeys{PublicKey: pub, PrivateKey: priv}
	if err := saveVAPIDKeys(path, keys); err != nil {
		logger.Errorf("push: не удалось сохранить VAPID-ключи в %s: %v", path, err)
		return keys, nil
	}
	logger.Infof("push: VAPID-ключи сгенерированы и сохранены в %s", path)
	return keys, nil
}

func loadVAPIDKeys(path string) (*VAPIDKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var keys VAPIDKeys
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, err
	}
	return &keys, nil
}

func saveVAPIDKeys(path string, keys *VAPIDKeys) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
