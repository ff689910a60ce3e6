package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rappen/RappSack/internal/validation"
	"github.com/rappen/RappSack/pkg/xrm"
)

// readContext decodes the execution context in the file named by args[0],
// or stdin when there is no argument or it is "-". Warnings go to stderr.
func readContext(cmd *cobra.Command, args []string) (*xrm.ExecutionContext, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return nil, fmt.Errorf("read context: %w", err)
	}

	decoder, err := validation.NewContextValidator()
	if err != nil {
		return nil, err
	}
	ec, result := decoder.Validate(data)
	for _, w := range result.Warnings {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w.String())
	}
	if err := result.ToError(); err != nil {
		return nil, err
	}
	if ec == nil {
		return nil, errors.New("empty execution context")
	}
	return ec, nil
}
