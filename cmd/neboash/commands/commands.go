package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aerotoad/neboa"
	"github.com/aerotoad/neboa/cmd/neboash/parser"
)

type HelpResult struct{}

func (h HelpResult) Print(w io.Writer) {
	fmt.Fprintln(w, "Neboa Shell Commands:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Meta Commands:")
	fmt.Fprintln(w, "  .help                         Show this help message")
	fmt.Fprintln(w, "  .exit                         Exit the shell")
	fmt.Fprintln(w, "  .pretty on|off                Toggle JSON formatting")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Collections:")
	fmt.Fprintln(w, "  .use <collection>             Set (and create) the current collection")
	fmt.Fprintln(w, "  .collections                  List all collections")
	fmt.Fprintln(w, "  .drop                         Drop the current collection")
	fmt.Fprintln(w, "  .rename <name>                Rename the current collection")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Documents:")
	fmt.Fprintln(w, "  .insert <doc|[docs]>          Insert one document or an array of documents")
	fmt.Fprintln(w, "  .get <id>                     Read a document")
	fmt.Fprintln(w, "  .update <id> <doc>            Replace a document")
	fmt.Fprintln(w, "  .delete <id> [id...]          Delete documents")
	fmt.Fprintln(w, "  .find [filter]                Find documents matching a filter")
	fmt.Fprintln(w, "  .count [filter]               Count documents matching a filter")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Subscriptions:")
	fmt.Fprintln(w, "  .watch <create|update|delete> [filter]   Print changes as they happen")
	fmt.Fprintln(w, "  .unwatch <subscription_id>               Stop a subscription")
	fmt.Fprintln(w, "  .subs                                    List subscriptions")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Filters are JSON documents:")
	fmt.Fprintln(w, `  .find {"age": {"$gte": 18}, "$or": [{"role": "admin"}, {"tags": {"$in": ["ops"]}}]}`)
	fmt.Fprintln(w, "  Operators: $eq $ne $gt $gte $lt $lte $in $nin $exists $regex $options $like $and $or $not")
}

func (h HelpResult) IsExit() bool {
	return false
}

func Help() Result {
	return HelpResult{}
}

func Exit() Result {
	return ExitResult{}
}

// current resolves the collection the shell is pointed at.
func current(s Shell) (*neboa.Collection, error) {
	name := s.GetCollection()
	if err := parser.ValidateCollection(name); err != nil {
		return nil, err
	}
	return s.DB().Collection(name)
}

// committed turns a subscriber failure into a warning: the change itself
// was stored.
func committed(err error) (string, error) {
	var notifyErr *neboa.NotifyError
	if errors.As(err, &notifyErr) {
		return notifyErr.Error(), nil
	}
	return "", err
}

func Use(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return errorResult(err)
	}
	c, err := s.DB().Collection(cmd.Args[0])
	if err != nil {
		return errorResult(err)
	}
	s.SetCollection(c.Name())
	return OKResult{Lines: []string{"collection=" + c.Name()}}
}

func Collections(s Shell) Result {
	names, err := s.DB().Collections()
	if err != nil {
		return errorResult(err)
	}
	return ListResult{Title: "Collections", Items: names}
}

func Pretty(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return errorResult(err)
	}
	switch strings.ToLower(cmd.Args[0]) {
	case "on":
		s.SetPretty(true)
	case "off":
		s.SetPretty(false)
	default:
		return ErrorResult{Err: "usage: .pretty on|off"}
	}
	return OKResult{}
}

func Insert(s Shell, cmd *parser.Command) Result {
	c, err := current(s)
	if err != nil {
		return errorResult(err)
	}
	payload := cmd.Rest(0)
	objs, err := parser.DecodeDocuments(payload)
	if err != nil {
		return errorResult(err)
	}
	docs := make([]neboa.Document, len(objs))
	for i, o := range objs {
		docs[i] = o
	}

	var stored []neboa.Document
	if strings.HasPrefix(strings.TrimSpace(strings.TrimPrefix(payload, "json:")), "[") {
		stored, err = c.InsertMany(docs)
	} else {
		var doc neboa.Document
		doc, err = c.Insert(docs[0])
		if doc != nil {
			stored = []neboa.Document{doc}
		}
	}
	warning, err := committed(err)
	if err != nil {
		return errorResult(err)
	}

	lines := make([]string, len(stored))
	for i, d := range stored {
		lines[i] = "id=" + d.ID()
	}
	return OKResult{Lines: lines, Warning: warning}
}

func Get(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return errorResult(err)
	}
	c, err := current(s)
	if err != nil {
		return errorResult(err)
	}
	doc, err := c.Get(cmd.Args[0])
	if err != nil {
		return errorResult(err)
	}
	return DocumentsResult{Docs: []neboa.Document{doc}, Pretty: s.GetPretty()}
}

func Update(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 2); err != nil {
		return errorResult(err)
	}
	c, err := current(s)
	if err != nil {
		return errorResult(err)
	}
	obj, err := parser.DecodeObject(cmd.Rest(1))
	if err != nil {
		return errorResult(err)
	}
	doc, err := c.Update(cmd.Args[0], obj)
	warning, err := committed(err)
	if err != nil {
		return errorResult(err)
	}
	return DocumentsResult{Docs: []neboa.Document{doc}, Pretty: s.GetPretty(), Warning: warning}
}

func Delete(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return errorResult(err)
	}
	c, err := current(s)
	if err != nil {
		return errorResult(err)
	}
	if len(cmd.Args) == 1 {
		warning, err := committed(c.Delete(cmd.Args[0]))
		if err != nil {
			return errorResult(err)
		}
		return OKResult{Lines: []string{"deleted=1"}, Warning: warning}
	}
	n, err := c.DeleteMany(cmd.Args)
	warning, err := committed(err)
	if err != nil {
		return errorResult(err)
	}
	return OKResult{Lines: []string{fmt.Sprintf("deleted=%d", n)}, Warning: warning}
}

// filtered builds a query over the current collection from an optional
// JSON filter.
func filtered(s Shell, filter string) (*neboa.Query, error) {
	c, err := current(s)
	if err != nil {
		return nil, err
	}
	q := c.Query()
	if filter == "" {
		return q, nil
	}
	return q.FilterJSON(filter)
}

func Find(s Shell, cmd *parser.Command) Result {
	q, err := filtered(s, cmd.Rest(0))
	if err != nil {
		return errorResult(err)
	}
	docs, err := q.Find()
	if err != nil {
		return errorResult(err)
	}
	return DocumentsResult{Docs: docs, Pretty: s.GetPretty()}
}

func Count(s Shell, cmd *parser.Command) Result {
	q, err := filtered(s, cmd.Rest(0))
	if err != nil {
		return errorResult(err)
	}
	n, err := q.Count()
	if err != nil {
		return errorResult(err)
	}
	return CountResult{Count: n}
}

func Drop(s Shell) Result {
	c, err := current(s)
	if err != nil {
		return errorResult(err)
	}
	for _, sub := range s.Subscriptions() {
		if sub.Collection() == c {
			s.Unwatch(sub.ID())
		}
	}
	if err := c.Drop(); err != nil {
		return errorResult(err)
	}
	s.SetCollection("")
	return OKResult{Lines: []string{"dropped=" + c.Name()}}
}

func Rename(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return errorResult(err)
	}
	c, err := current(s)
	if err != nil {
		return errorResult(err)
	}
	if err := c.Rename(cmd.Args[0]); err != nil {
		return errorResult(err)
	}
	s.SetCollection(c.Name())
	return OKResult{Lines: []string{"collection=" + c.Name()}}
}

func Watch(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return errorResult(err)
	}
	event := neboa.Event(strings.ToLower(cmd.Args[0]))
	filter := cmd.Rest(1)

	out := s.Events()
	var sub *neboa.Subscription
	callback := func(change neboa.Change) {
		fmt.Fprintf(out, "EVENT %s %s %s %s\n", sub.ID(), change.Event, change.Collection, strings.Join(change.Identifiers(), ","))
	}

	var err error
	if filter == "" {
		c, cerr := current(s)
		if cerr != nil {
			return errorResult(cerr)
		}
		sub, err = c.Subscribe(event, callback)
	} else {
		q, qerr := filtered(s, filter)
		if qerr != nil {
			return errorResult(qerr)
		}
		sub, err = q.Subscribe(event, callback)
	}
	if err != nil {
		return errorResult(err)
	}
	s.Watch(sub)
	return OKResult{Lines: []string{"subscription=" + sub.ID()}}
}

func Unwatch(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return errorResult(err)
	}
	if !s.Unwatch(cmd.Args[0]) {
		return ErrorResult{Err: fmt.Sprintf("no subscription %s", cmd.Args[0])}
	}
	return OKResult{}
}

func Subs(s Shell) Result {
	subs := s.Subscriptions()
	items := make([]string, len(subs))
	for i, sub := range subs {
		items[i] = fmt.Sprintf("%s %s %s %s", sub.ID(), sub.Collection().Name(), sub.Event(), sub.Scope())
	}
	return ListResult{Title: "Subscriptions", Items: items}
}
