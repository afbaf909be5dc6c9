package commands

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/aerotoad/neboa"
)

type Result interface {
	Print(w io.Writer)
	IsExit() bool
}

type ErrorResult struct {
	Err string
}

func (e ErrorResult) Print(w io.Writer) {
	fmt.Fprintln(w, "ERROR")
	fmt.Fprintln(w, e.Err)
}

func (e ErrorResult) IsExit() bool {
	return false
}

func errorResult(err error) ErrorResult {
	return ErrorResult{Err: err.Error()}
}

type ExitResult struct{}

func (e ExitResult) Print(w io.Writer) {}

func (e ExitResult) IsExit() bool {
	return true
}

// OKResult acknowledges a command. Lines follow the OK marker; Warning is
// set when the change was stored but a subscriber failed.
type OKResult struct {
	Lines   []string
	Warning string
}

func (o OKResult) Print(w io.Writer) {
	fmt.Fprintln(w, "OK")
	for _, l := range o.Lines {
		fmt.Fprintln(w, l)
	}
	if o.Warning != "" {
		fmt.Fprintf(w, "WARN %s\n", o.Warning)
	}
}

func (o OKResult) IsExit() bool {
	return false
}

type DocumentsResult struct {
	Docs    []neboa.Document
	Pretty  bool
	Warning string
}

func (d DocumentsResult) Print(w io.Writer) {
	for _, doc := range d.Docs {
		fmt.Fprintln(w, formatDocument(doc, d.Pretty))
	}
	fmt.Fprintf(w, "(%d document(s))\n", len(d.Docs))
	if d.Warning != "" {
		fmt.Fprintf(w, "WARN %s\n", d.Warning)
	}
}

func (d DocumentsResult) IsExit() bool {
	return false
}

type CountResult struct {
	Count int
}

func (c CountResult) Print(w io.Writer) {
	fmt.Fprintf(w, "count=%d\n", c.Count)
}

func (c CountResult) IsExit() bool {
	return false
}

type ListResult struct {
	Title string
	Items []string
}

func (l ListResult) Print(w io.Writer) {
	fmt.Fprintf(w, "%s (%d):\n", l.Title, len(l.Items))
	for _, item := range l.Items {
		fmt.Fprintf(w, "  %s\n", item)
	}
}

func (l ListResult) IsExit() bool {
	return false
}

func formatDocument(doc neboa.Document, pretty bool) string {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return fmt.Sprintf("<unprintable document: %v>", err)
	}
	return string(data)
}
