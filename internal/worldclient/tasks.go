package worldclient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Delinquent-Codex/mineflayer/internal/protocol"
)

// TaskError is a request the server rejected or a task it failed.
type TaskError struct {
	Code    string
	Message string
}

func (e *TaskError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Retryable reports whether resending the request may succeed.
func (e *TaskError) Retryable() bool { return protocol.IsRetryable(e.Code) }

type pendingTask struct {
	ref    string
	taskID string
	done   chan error
	// tick of the observation that settled the task.
	tick uint64
}

// taskTable correlates ACTION_RESULT events by request id and
// TASK_DONE / TASK_FAIL events by server task id.
type taskTable struct {
	mu     sync.Mutex
	byRef  map[string]*pendingTask
	byTask map[string]*pendingTask
}

func newTaskTable() *taskTable {
	return &taskTable{
		byRef:  map[string]*pendingTask{},
		byTask: map[string]*pendingTask{},
	}
}

func (t *taskTable) track(ref string) *pendingTask {
	p := &pendingTask{ref: ref, done: make(chan error, 1)}
	t.mu.Lock()
	t.byRef[ref] = p
	t.mu.Unlock()
	return p
}

func (t *taskTable) untrack(p *pendingTask) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byRef, p.ref)
	if p.taskID != "" {
		delete(t.byTask, p.taskID)
	}
}

func (t *taskTable) taskID(p *pendingTask) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return p.taskID
}

func (t *taskTable) settledAt(p *pendingTask) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return p.tick
}

// finish settles p once; t.mu is held.
func (t *taskTable) finish(p *pendingTask, tick uint64, err error) {
	delete(t.byRef, p.ref)
	if p.taskID != "" {
		delete(t.byTask, p.taskID)
	}
	p.tick = tick
	select {
	case p.done <- err:
	default:
	}
}

// handleEvents processes events in order, so a result and the completion of
// the same task may arrive in one frame.
func (t *taskTable) handleEvents(tick uint64, events []protocol.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ev := range events {
		switch ev.Type() {
		case protocol.EventActionResult:
			p := t.byRef[ev.String("ref")]
			if p == nil {
				continue
			}
			if !ev.Bool("ok") {
				t.finish(p, tick, &TaskError{Code: ev.String("code"), Message: ev.String("message")})
				continue
			}
			id := ev.String("task_id")
			if id == "" {
				t.finish(p, tick, nil)
				continue
			}
			p.taskID = id
			t.byTask[id] = p
		case protocol.EventTaskDone:
			if p := t.byTask[ev.String("task_id")]; p != nil {
				t.finish(p, tick, nil)
			}
		case protocol.EventTaskFail:
			if p := t.byTask[ev.String("task_id")]; p != nil {
				t.finish(p, tick, &TaskError{Code: ev.String("code"), Message: ev.String("message")})
			}
		}
	}
}

func (t *taskTable) failAll(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.byRef {
		t.finish(p, 0, err)
	}
	for _, p := range t.byTask {
		t.finish(p, 0, err)
	}
}

// do submits req and waits for it to finish. A retryable rejection is
// resent once against the next observation.
func (c *Client) do(ctx context.Context, req protocol.TaskReq) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TaskTimeout)
	defer cancel()

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var tick uint64
		tick, err = c.submit(ctx, req)
		var te *TaskError
		if !errors.As(err, &te) || !te.Retryable() || attempt > 0 {
			break
		}
		c.log.Debug("retrying task", zap.String("task", req.Type), zap.String("code", te.Code))
		if werr := c.waitObsAfter(ctx, tick); werr != nil {
			return fmt.Errorf("%s: %w", req.Type, werr)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", req.Type, err)
	}
	return nil
}

// submit sends one ACT carrying req and returns the tick that settled it.
func (c *Client) submit(ctx context.Context, req protocol.TaskReq) (uint64, error) {
	select {
	case <-c.closed:
		return 0, ErrClosed
	default:
	}

	req.ID = "K_" + uuid.NewString()
	p := c.tasks.track(req.ID)
	defer c.tasks.untrack(p)

	tick, agentID, _ := c.lastObs()
	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: c.cfg.Version,
		Tick:            tick,
		AgentID:         agentID,
		Tasks:           []protocol.TaskReq{req},
	}
	if err := c.writeJSON(act); err != nil {
		return 0, fmt.Errorf("send ACT: %w", err)
	}

	select {
	case err := <-p.done:
		return c.tasks.settledAt(p), err
	case <-ctx.Done():
		if id := c.tasks.taskID(p); id != "" {
			c.cancelTask(id)
		}
		return 0, ctx.Err()
	case <-c.closed:
		return 0, ErrClosed
	}
}

// cancelTask asks the server to drop a running task. Best effort.
func (c *Client) cancelTask(taskID string) {
	tick, agentID, _ := c.lastObs()
	err := c.writeJSON(protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: c.cfg.Version,
		Tick:            tick,
		AgentID:         agentID,
		Cancel:          []string{taskID},
	})
	if err != nil {
		c.log.Debug("cancel task", zap.String("task_id", taskID), zap.Error(err))
	}
}
