package core

import (
	"sync"

	"pulsgen/protocol"
)

// CommandHandler handles one decoded control message
type CommandHandler func(msg *protocol.Message) error

// Command is one entry of the dispatch table
type Command struct {
	Kind    protocol.MsgKind
	Name    string
	Format  string // Field names for the dictionary, e.g. "channel port pin"
	Handler CommandHandler
}

// CommandRegistry maps message kinds to handlers. Lookup is an array
// index, so dispatch costs the same for every kind.
type CommandRegistry struct {
	mu    sync.RWMutex
	table [256]*Command
	count int
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{}
}

// Register installs handler for kind, replacing any earlier registration
func (r *CommandRegistry) Register(kind protocol.MsgKind, name string, format string, handler CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.table[kind] == nil {
		r.count++
	}
	r.table[kind] = &Command{Kind: kind, Name: name, Format: format, Handler: handler}
}

func (r *CommandRegistry) GetCommand(kind protocol.MsgKind) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd := r.table[kind]
	return cmd, cmd != nil
}

// GetCommandByName looks a command up by its dictionary name
func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cmd := range r.table {
		if cmd != nil && cmd.Name == name {
			return cmd, true
		}
	}
	return nil, false
}

func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Dispatch runs the handler of msg.Kind, or returns ErrUnknownMessage
func (r *CommandRegistry) Dispatch(msg *protocol.Message) error {
	cmd, ok := r.GetCommand(msg.Kind)
	if !ok || cmd.Handler == nil {
		return protocol.ErrUnknownMessage
	}
	return cmd.Handler(msg)
}

// GetDictionary lists the registered commands in kind order, one per line:
// "0xKK name fields"
func (r *CommandRegistry) GetDictionary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var dict []byte
	for _, cmd := range r.table {
		if cmd == nil {
			continue
		}
		dict = append(dict, "0x"+hex8(uint8(cmd.Kind))+" "+cmd.Name...)
		if cmd.Format != "" {
			dict = append(dict, ' ')
			dict = append(dict, cmd.Format...)
		}
		dict = append(dict, '\n')
	}
	return string(dict)
}
