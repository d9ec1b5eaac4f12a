package stoploss

import (
	"fmt"
	"sync"
	"time"

	"stopguard/internal/models"
	"stopguard/pkg/utils"
)

// reporter.go - батчинг диагностических отчётов оценки
//
// Назначение:
// При большом количестве групп каждая закрытая свеча порождает
// отчёт. Чтобы не заваливать потребителя, отчёты одного таймфрейма
// копятся и отправляются одним уведомлением раз в окно.
// Отчёты, пришедшие во время отправки, не теряются - для них
// планируется следующая отправка.

// RuleEvaluation - результат проверки одного правила на свече
type RuleEvaluation struct {
	RuleID     int64   `json:"rule_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	StopPrice  float64 `json:"stop_price"`
	ClosePrice float64 `json:"close_price"`
	Triggered  bool    `json:"triggered"`
}

// Reporter копит отчёты оценки и отправляет их батчами
type Reporter struct {
	notifier Notifier
	window   time.Duration
	log      *utils.Logger

	mu       sync.Mutex
	pending  map[string][]RuleEvaluation // таймфрейм -> отчёты
	armed    bool                        // flush уже запланирован
	flushing bool
	followUp bool // отчёты пришли во время flush'а
}

// NewReporter создаёт батчер отчётов
func NewReporter(notifier Notifier, window time.Duration, log *utils.Logger) *Reporter {
	if window <= 0 {
		window = 8 * time.Second
	}
	return &Reporter{
		notifier: notifier,
		window:   window,
		log:      log.WithComponent("reporter"),
		pending:  make(map[string][]RuleEvaluation),
	}
}

// Add добавляет отчёты таймфрейма в очередь
func (r *Reporter) Add(timeframe string, evals []RuleEvaluation) {
	if len(evals) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending[timeframe] = append(r.pending[timeframe], evals...)

	switch {
	case r.flushing:
		r.followUp = true
	case !r.armed:
		r.armed = true
		time.AfterFunc(r.window, r.flush)
	}
}

// Flush немедленно отправляет всё накопленное, вызывается при остановке
func (r *Reporter) Flush() {
	r.flush()
}

func (r *Reporter) flush() {
	r.mu.Lock()
	batch := r.pending
	r.pending = make(map[string][]RuleEvaluation)
	r.armed = false
	r.flushing = true
	r.mu.Unlock()

	for timeframe, evals := range batch {
		r.publish(timeframe, evals)
	}

	r.mu.Lock()
	r.flushing = false
	if r.followUp {
		r.followUp = false
		r.armed = true
		time.AfterFunc(r.window, r.flush)
	}
	r.mu.Unlock()
}

func (r *Reporter) publish(timeframe string, evals []RuleEvaluation) {
	triggered := 0
	for _, e := range evals {
		if e.Triggered {
			triggered++
		}
	}

	r.notifier.Publish(models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationTypeSLReport,
		Severity:  models.SeverityInfo,
		Message:   fmt.Sprintf("evaluated %d rules on %s candles, %d triggered", len(evals), timeframe, triggered),
		Meta: map[string]interface{}{
			"timeframe":   timeframe,
			"evaluations": evals,
		},
	})
}
