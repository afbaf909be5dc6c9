package commands

import (
	"io"

	"github.com/aerotoad/neboa"
)

type Shell interface {
	DB() *neboa.DB
	GetCollection() string
	SetCollection(name string)
	GetPretty() bool
	SetPretty(pretty bool)
	Watch(sub *neboa.Subscription)
	Unwatch(id string) bool
	Subscriptions() []*neboa.Subscription
	Events() io.Writer
}
