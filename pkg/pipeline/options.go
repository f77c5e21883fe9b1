package pipeline

import (
	"github.com/peter-kozarec/roundtrip/pkg/middleware"
)

type Option func(*Pipeline)

// WithWorkers bounds the number of partitions matched at the same time.
func WithWorkers(workers int) Option {
	return func(p *Pipeline) {
		if workers > 0 {
			p.workers = workers
		}
	}
}

// WithStrict makes Run fail as a whole when any partition is rejected by validation.
func WithStrict(strict bool) Option {
	return func(p *Pipeline) {
		p.strict = strict
	}
}

// WithAccounts restricts the run to fills of the given accounts.
func WithAccounts(accounts ...string) Option {
	return func(p *Pipeline) {
		p.accounts = append(p.accounts, accounts...)
	}
}

// WithMiddleware wraps the partition handler, first wrapper outermost.
func WithMiddleware(wrappers ...func(middleware.PartitionHandler) middleware.PartitionHandler) Option {
	return func(p *Pipeline) {
		p.middleware = append(p.middleware, wrappers...)
	}
}
