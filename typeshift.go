// Package typeshift exposes the client and converter builders.
package typeshift

import (
	"github.com/typeshift/typeshift-go/api"
	"github.com/typeshift/typeshift-go/convert"
)

// NewClient instantiates a new API *Client authenticated with credential.
// If not specified, the default endpoint, timeouts, and retry policy are
// used.
func NewClient(credential api.Credential, opts ...api.Option) (*api.Client, error) {
	return api.Build(credential, opts...)
}

// NewConverter instantiates a conversion workflow that converts input
// to outputFormat and streams the result into output.
func NewConverter(client *api.Client, input convert.Readable, output convert.Writable, outputFormat string, opts ...convert.Option) (*convert.Converter, error) {
	return convert.New(client, input, output, outputFormat, opts...)
}
