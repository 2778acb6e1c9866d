package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/franckalain/plateswipe/internal/logger"
	"github.com/franckalain/plateswipe/internal/ml"
	"github.com/franckalain/plateswipe/internal/models"
	"github.com/franckalain/plateswipe/internal/scan"
)

const (
	writeTimeout    = 10 * time.Second
	maxMessageBytes = 10 << 20 // label photos arrive base64 encoded
)

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// session is one camera session: one websocket connection with its own scan filter
type session struct {
	id     string
	conn   *websocket.Conn
	filter *scan.Filter
	log    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.handlers.Add(1)
	defer s.handlers.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:     uuid.New().String(),
		conn:   conn,
		filter: scan.NewFilter(s.threshold),
		ctx:    ctx,
		cancel: cancel,
	}
	sess.log = s.log.With("session", sess.id)

	if !s.register(sess) {
		sess.close()
		return
	}
	defer func() {
		s.unregister(sess)
		sess.close()
		sess.wg.Wait()
		sess.log.Debug("scan session ended")
	}()
	sess.log.Debug("scan session started", "threshold", s.threshold)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.log.Debug("websocket read ended", "error", err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			sess.sendError("invalid_message", "Invalid message format")
			continue
		}
		s.handleMessage(sess, msg)
	}
}

func (s *Server) handleMessage(sess *session, msg inboundMessage) {
	switch msg.Type {
	case "barcode":
		s.handleBarcode(sess, msg.Data)
	case "release":
		sess.filter.Release()
	case "search":
		s.handleSearchMessage(sess, msg.Data)
	case "label":
		s.handleLabel(sess, msg.Data)
	default:
		sess.sendError("unknown_type", "Unknown message type")
	}
}

// handleBarcode runs on the read loop for every decoded frame, so resolution happens elsewhere
func (s *Server) handleBarcode(sess *session, data json.RawMessage) {
	var payload struct {
		Value json.RawMessage `json:"value"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			sess.sendError(codeInvalidBarcode, "Invalid barcode payload")
			return
		}
	}
	value, err := decodeBarcodeValue(payload.Value)
	if err != nil {
		sess.sendError(codeInvalidBarcode, err.Error())
		return
	}

	code, ok := sess.filter.Observe(value)
	if !ok {
		return
	}
	sess.send("confirmed", map[string]any{"barcode": code})
	sess.spawn(func(ctx context.Context) {
		s.resolveBarcode(ctx, sess, code)
	})
}

func (s *Server) resolveBarcode(ctx context.Context, sess *session, code int64) {
	ing, err := s.resolver.Get(ctx, code)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		_, errCode := classify(err)
		if errCode == codeNotFound {
			sess.send("not_found", map[string]any{"barcode": code})
			return
		}
		sess.log.Warn("barcode resolution failed", "barcode", code, "error", err)
		sess.sendError(errCode, err.Error())
		return
	}
	sess.send("ingredient", ing)
}

func (s *Server) handleSearchMessage(sess *session, data json.RawMessage) {
	var payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		sess.sendError(codeInvalidQuery, "Invalid search payload")
		return
	}
	sess.spawn(func(ctx context.Context) {
		s.search(ctx, sess, payload.Name, payload.Count)
	})
}

func (s *Server) search(ctx context.Context, sess *session, name string, count int) {
	items, err := s.resolver.Search(ctx, name, count)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		_, errCode := classify(err)
		sess.sendError(errCode, err.Error())
		return
	}
	if items == nil {
		items = []*models.Ingredient{}
	}
	sess.send("search_result", map[string]any{"name": name, "items": items})
}

func (s *Server) handleLabel(sess *session, data json.RawMessage) {
	if s.reader == nil {
		sess.sendError("label_disabled", "Label reading is not enabled")
		return
	}
	var payload struct {
		Image string `json:"image"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Image == "" {
		sess.sendError("invalid_image", "Invalid image data")
		return
	}
	imageData, err := base64.StdEncoding.DecodeString(payload.Image)
	if err != nil {
		sess.sendError("invalid_image", "Invalid image format")
		return
	}

	sess.spawn(func(ctx context.Context) {
		label, err := s.reader.ReadLabel(ctx, imageData)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ml.ErrNoLabel) {
				sess.sendError("no_label", err.Error())
				return
			}
			sess.log.Warn("label reading failed", "error", err)
			sess.sendError("label_failed", "Failed to read label")
			return
		}
		sess.send("label", label)
		if label.BarCode != nil {
			s.resolveBarcode(ctx, sess, *label.BarCode)
			return
		}
		s.search(ctx, sess, label.Name, 0)
	})
}

// spawn runs fn off the read loop; the session waits for it before tearing down
func (sess *session) spawn(fn func(ctx context.Context)) {
	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		fn(sess.ctx)
	}()
}

func (sess *session) send(messageType string, data any) {
	sess.write(map[string]any{
		"type": messageType,
		"data": data,
	})
}

func (sess *session) sendError(code, message string) {
	sess.write(map[string]any{
		"type":    "error",
		"code":    code,
		"message": message,
	})
}

func (sess *session) write(msg map[string]any) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	_ = sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := sess.conn.WriteJSON(msg); err != nil {
		sess.log.Debug("websocket write failed", "type", msg["type"], "error", err)
	}
}

func (sess *session) close() {
	sess.closeOnce.Do(func() {
		sess.cancel()
		sess.writeMu.Lock()
		_ = sess.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		sess.writeMu.Unlock()
		_ = sess.conn.Close()
	})
}

// decodeBarcodeValue accepts null, a JSON number or a numeric string
func decodeBarcodeValue(raw json.RawMessage) (*int64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil, fmt.Errorf("invalid barcode value")
		}
		s = strings.TrimSpace(str)
		if s == "" {
			return nil, nil
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return nil, fmt.Errorf("barcode must be a non-negative integer")
	}
	return &v, nil
}
