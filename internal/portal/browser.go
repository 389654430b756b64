package portal

import "context"

// Browser is the single page of the external browser session. Element lookups
// that find nothing return an error wrapping ErrElementNotFound.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Screenshot(ctx context.Context, selector string) ([]byte, error)
	Input(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	Has(ctx context.Context, selector string) (bool, error)
	Options(ctx context.Context, selector string) ([]string, error)
	Select(ctx context.Context, selector, label string) error
	HTML(ctx context.Context) (string, error)
	Close() error
}
