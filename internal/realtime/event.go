package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zishang520/socket.io/v2/socket"
)

var ErrMalformedEvent = errors.New("malformed socket event")

// Event Socket.IO 事件
type Event struct {
	Namespace string
	Name      string
	Args      []json.RawMessage
}

// Arg 解码第 i 个参数
func (e Event) Arg(i int, dest interface{}) error {
	if i < 0 || i >= len(e.Args) {
		return fmt.Errorf("%w: event %s has no argument %d", ErrMalformedEvent, e.Name, i)
	}
	return json.Unmarshal(e.Args[i], dest)
}

// eventFromArgs 将监听器收到的 [name, args...] 转为 Event，丢弃 ack 回调
func eventFromArgs(namespace string, args []any) (Event, error) {
	if len(args) == 0 {
		return Event{}, ErrMalformedEvent
	}
	name, ok := args[0].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return Event{}, ErrMalformedEvent
	}
	event := Event{Namespace: namespace, Name: name, Args: make([]json.RawMessage, 0, len(args)-1)}
	for _, arg := range args[1:] {
		if _, isAck := arg.(socket.Ack); isAck {
			continue
		}
		raw, err := json.Marshal(arg)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		event.Args = append(event.Args, raw)
	}
	return event, nil
}
