package sqlq

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultTablePrefix = "q_"
	defaultTemplate    = "queue_template"
)

type options struct {
	logger      zerolog.Logger
	tablePrefix string
	template    string
	newID       func() (string, error)
}

type Option func(*options)

// WithLogger sets the logger used by the client and every queue it acquires.
// The global zerolog logger is used by default.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTablePrefix sets the prefix put in front of queue names to form table
// names. Defaults to "q_".
func WithTablePrefix(prefix string) Option {
	return func(o *options) { o.tablePrefix = prefix }
}

// WithTemplate sets the name of the table queue tables are created from.
// Defaults to "queue_template".
func WithTemplate(template string) Option {
	return func(o *options) { o.template = template }
}

// WithIDGenerator replaces the UUIDv7 message id generator. Generated ids must
// be unique and should sort by creation time.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(o *options) { o.newID = newID }
}

func newOptions(opts []Option) options {
	o := options{
		logger:      log.Logger,
		tablePrefix: defaultTablePrefix,
		template:    defaultTemplate,
		newID:       newUUIDv7,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
