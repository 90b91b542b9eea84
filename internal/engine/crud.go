package engine

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"relaygate/internal/models"

	"go.uber.org/zap"
)

// CRUD operations accepted on <prefix>/<op>
const (
	OpGet    = "get"
	OpAdd    = "add"
	OpSet    = "set"
	OpDelete = "delete"

	crudTimeout = 10 * time.Second
)

// CrudResponse is published on <prefix>/response for every bus CRUD request
type CrudResponse struct {
	Op      string        `json:"op"`
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Rule    *models.Rule  `json:"rule,omitempty"`
	Rules   []models.Rule `json:"rules,omitempty"`
}

type deleteRequest struct {
	ID string `json:"id"`
}

func (e *Engine) subscribeCrud() error {
	for _, op := range []string{OpGet, OpAdd, OpSet, OpDelete} {
		topic := e.opts.CrudPrefix + "/" + op
		if err := e.opts.Transport.Subscribe(topic, e.onCrud); err != nil {
			e.logger.Error("Failed to subscribe CRUD topic", zap.String("topic", topic), zap.Error(err))
			return err
		}
	}
	e.logger.Info("Subscribed CRUD topics", zap.String("prefix", e.opts.CrudPrefix))
	return nil
}

// onCrud runs requests off the transport's delivery goroutine because a
// mutation may itself subscribe or unsubscribe topics
func (e *Engine) onCrud(topic string, payload []byte) {
	body := append([]byte(nil), payload...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), crudTimeout)
		defer cancel()
		resp := e.HandleCrud(ctx, topic, body)
		e.publishCrudResponse(resp)
	}()
}

// HandleCrud executes one bus CRUD request
func (e *Engine) HandleCrud(ctx context.Context, topic string, payload []byte) CrudResponse {
	op := topic[strings.LastIndex(topic, "/")+1:]
	resp := CrudResponse{Op: op}

	switch op {
	case OpGet:
		resp.Success = true
		resp.Message = "OK"
		resp.Rules = e.GetRules()
		return resp
	case OpAdd, OpSet:
		var rule models.Rule
		if err := json.Unmarshal(payload, &rule); err != nil {
			e.logger.Warn("Malformed rule in CRUD request", zap.String("op", op), zap.Error(err))
			resp.Message = "invalid rule body: " + err.Error()
			return resp
		}
		var result models.Result
		if op == OpAdd {
			result = e.AddRule(ctx, rule)
		} else {
			result = e.SetRule(ctx, rule)
		}
		resp.Success, resp.Message, resp.Rule = result.Success, result.Message, result.Rule
		return resp
	case OpDelete:
		var req deleteRequest
		if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" {
			// a bare id string is accepted as well
			req.ID = strings.Trim(strings.TrimSpace(string(payload)), `"`)
		}
		if req.ID == "" {
			resp.Message = "rule id is required"
			return resp
		}
		result := e.DeleteRule(ctx, req.ID)
		resp.Success, resp.Message = result.Success, result.Message
		return resp
	}

	resp.Message = "unknown operation " + op
	return resp
}

func (e *Engine) publishCrudResponse(resp CrudResponse) {
	if e.opts.Transport == nil || !e.opts.Transport.IsConnected() {
		e.logger.Warn("Transport not connected, dropping CRUD response", zap.String("op", resp.Op))
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		e.logger.Error("Failed to encode CRUD response", zap.Error(err))
		return
	}
	if err := e.opts.Transport.Publish(e.opts.CrudPrefix+"/response", payload); err != nil {
		e.logger.Warn("Failed to publish CRUD response", zap.Error(err))
	}
}
