package shell

import (
	"fmt"
	"io"
	"sync"

	"github.com/aerotoad/neboa"
	"github.com/aerotoad/neboa/cmd/neboash/commands"
	"github.com/aerotoad/neboa/cmd/neboash/parser"
)

type Shell struct {
	db         *neboa.DB
	events     io.Writer
	collection string
	pretty     bool
	subs       []*neboa.Subscription
	mu         sync.Mutex
}

// NewShell wraps an open database. Change notifications of .watch are
// written to events.
func NewShell(db *neboa.DB, events io.Writer) *Shell {
	return &Shell{
		db:     db,
		events: events,
	}
}

// Close stops every subscription and closes the database.
func (s *Shell) Close() error {
	for _, sub := range s.Subscriptions() {
		s.Unwatch(sub.ID())
	}
	return s.db.Close()
}

func (s *Shell) DB() *neboa.DB {
	return s.db
}

func (s *Shell) Events() io.Writer {
	return s.events
}

func (s *Shell) GetCollection() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection
}

func (s *Shell) SetCollection(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection = name
}

func (s *Shell) GetPretty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pretty
}

func (s *Shell) SetPretty(pretty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pretty = pretty
}

func (s *Shell) Watch(sub *neboa.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
}

// Unwatch unsubscribes and forgets the subscription with the given id.
func (s *Shell) Unwatch(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.ID() == id {
			sub.Unsubscribe()
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Shell) Subscriptions() []*neboa.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*neboa.Subscription, len(s.subs))
	copy(out, s.subs)
	return out
}

// Prompt shows the current collection.
func (s *Shell) Prompt() string {
	if c := s.GetCollection(); c != "" {
		return c + "> "
	}
	return "> "
}

func (s *Shell) Execute(cmd *parser.Command) commands.Result {
	switch cmd.Name {
	case ".help":
		return commands.Help()
	case ".exit", ".quit":
		return commands.Exit()
	case ".use":
		return commands.Use(s, cmd)
	case ".collections":
		return commands.Collections(s)
	case ".pretty":
		return commands.Pretty(s, cmd)
	case ".insert":
		return commands.Insert(s, cmd)
	case ".get":
		return commands.Get(s, cmd)
	case ".update":
		return commands.Update(s, cmd)
	case ".delete":
		return commands.Delete(s, cmd)
	case ".find":
		return commands.Find(s, cmd)
	case ".count":
		return commands.Count(s, cmd)
	case ".drop":
		return commands.Drop(s)
	case ".rename":
		return commands.Rename(s, cmd)
	case ".watch":
		return commands.Watch(s, cmd)
	case ".unwatch":
		return commands.Unwatch(s, cmd)
	case ".subs":
		return commands.Subs(s)
	default:
		return commands.ErrorResult{Err: fmt.Sprintf("unknown command: %s", cmd.Name)}
	}
}

// Run parses and executes one input line.
func (s *Shell) Run(line string) commands.Result {
	cmd, err := parser.Parse(line)
	if err != nil {
		return commands.ErrorResult{Err: err.Error()}
	}
	return s.Execute(cmd)
}
