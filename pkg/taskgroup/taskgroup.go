package taskgroup

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// taskgroup - управление жизненным циклом фоновых задач
//
// Назначение:
// Обёртка над errgroup для долгоживущих горутин сервиса
// (циклы движка, мониторы, stream synchronizer). Добавляет к
// errgroup имена задач, восстановление паники и фильтрацию
// context.Canceled при штатной остановке.
//
// Использование:
//
//	g := taskgroup.New(ctx)
//	g.Go("sweep-loop", engine.RunSweep)
//	g.Go("stream", stream.Run)
//	...
//	g.Stop()
//	err := g.Wait()

// Group управляет набором именованных фоновых задач
//
// Первая ошибка любой задачи отменяет контекст группы:
// остальные задачи получают сигнал остановки через ctx.Done().
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group
}

// New создаёт группу задач, привязанную к родительскому контексту
func New(parent context.Context) *Group {
	ctx, cancel := context.WithCancel(parent)
	eg, egCtx := errgroup.WithContext(ctx)
	return &Group{ctx: egCtx, cancel: cancel, eg: eg}
}

// Context возвращает контекст группы
//
// Отменяется при Stop() или при первой ошибке задачи.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go запускает задачу в отдельной горутине
//
// Задача должна завершаться при отмене переданного контекста.
// Паника внутри задачи перехватывается и превращается в ошибку,
// чтобы один монитор не уронил весь процесс. context.Canceled
// не считается ошибкой: это штатное завершение по остановке.
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.eg.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %s panicked: %v", name, r)
			}
		}()

		if err := fn(g.ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("task %s: %w", name, err)
		}
		return nil
	})
}

// Stop сигнализирует всем задачам о завершении
//
// Не блокирует: дождаться фактической остановки можно через Wait().
func (g *Group) Stop() {
	g.cancel()
}

// Wait блокирует до завершения всех задач
//
// Возвращает первую ошибку задачи или nil при штатной остановке.
func (g *Group) Wait() error {
	defer g.cancel()
	return g.eg.Wait()
}
