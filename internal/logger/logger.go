// Package logger пишет логи с префиксом сервиса через асинхронную очередь,
// чтобы обработка сообщений чата не ждала вывода. Умеет логировать длительность вызовов.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	asyncBufferSize = 8192
	slowThreshold   = 100 * time.Millisecond
)

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

var (
	mu       sync.RWMutex
	prefix   string
	minLevel = levelInfo
	queue    chan string
	once     sync.Once
)

func parseLevel(s string) level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func start() {
	minLevel = parseLevel(os.Getenv("LOG_LEVEL"))
	queue = make(chan string, asyncBufferSize)
	go func() {
		for msg := range queue {
			log.Print(msg)
		}
	}()
}

func enabled(l level) bool {
	once.Do(start)
	mu.RLock()
	defer mu.RUnlock()
	return l >= minLevel
}

func enqueue(l level, msg string) {
	if !enabled(l) {
		return
	}
	select {
	case queue <- tag() + msg:
	default:
		// очередь переполнена, запись теряется
	}
}

// SetPrefix задаёт префикс сервиса, например "relay".
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetLevel переопределяет уровень из LOG_LEVEL (значение из конфига).
func SetLevel(s string) {
	once.Do(start)
	mu.Lock()
	minLevel = parseLevel(s)
	mu.Unlock()
}

func tag() string {
	mu.RLock()
	defer mu.RUnlock()
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

func Debugf(format string, v ...any) {
	enqueue(levelDebug, "DEBUG: "+fmt.Sprintf(format, v...))
}

func Info(v ...any) {
	enqueue(levelInfo, fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(levelInfo, fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	enqueue(levelWarn, "WARN: "+fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(levelError, "ERROR: "+fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(levelError, "ERROR: "+fmt.Sprintf(format, v...))
}

// Fatalf пишет синхронно и завершает процесс.
func Fatalf(format string, v ...any) {
	Flush(time.Second)
	log.Fatalf(tag()+"FATAL: "+format, v...)
}

// Flush ждёт, пока очередь опустеет, но не дольше timeout. После Flush логгер продолжает работать.
func Flush(timeout time.Duration) {
	once.Do(start)
	deadline := time.Now().Add(timeout)
	for len(queue) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

// LogDuration пишет имя операции и время выполнения.
// На уровне info пишутся только вызовы дольше 100ms, на debug все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if !enabled(levelDebug) && elapsed < slowThreshold {
		return
	}
	enqueue(levelInfo, fmt.Sprintf("fn=%s duration_ms=%d", fn, elapsed.Milliseconds()))
}

// DeferLogDuration для defer: defer logger.DeferLogDuration("relay.Submit", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
