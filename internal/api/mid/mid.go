// Package mid provides the middleware wrapped around every API handler.
package mid

import "github.com/ahrav/conductor/pkg/web"

// isError tests if the Encoder has an error inside of it.
func isError(e web.Encoder) error {
	err, isError := e.(error)
	if isError {
		return err
	}
	return nil
}
