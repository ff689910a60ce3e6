package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rappen/RappSack/internal/handlers"
	"github.com/rappen/RappSack/pkg/contextentity"
	"github.com/rappen/RappSack/pkg/schema"
	"github.com/rappen/RappSack/pkg/xrm"
)

type resolveOptions struct {
	View      string
	Index     int
	PreImage  string
	PostImage string
	Text      bool
}

func newResolveCommand(_ *rootOptions) *cobra.Command {
	opts := &resolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve [context-file]",
		Short: "Print one view of the record in an execution context",
		Long: `Print the Target, PreImage, PostImage or Complete view of the record in an
execution context read from a file or stdin. Use --index to address one record
of a bulk operation.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ec, err := readContext(cmd, args)
			if err != nil {
				return err
			}
			return runResolve(cmd, ec, opts)
		},
	}
	cmd.Flags().StringVar(&opts.View, "view", "complete", "view to resolve (target|preimage|postimage|complete)")
	cmd.Flags().IntVar(&opts.Index, "index", -1, "record position in the Targets collection")
	cmd.Flags().StringVar(&opts.PreImage, "pre-image", "", "pick the pre image with this name")
	cmd.Flags().StringVar(&opts.PostImage, "post-image", "", "pick the post image with this name")
	cmd.Flags().BoolVar(&opts.Text, "text", false, "print one attribute per line instead of JSON")
	return cmd
}

func runResolve(cmd *cobra.Command, ec *xrm.ExecutionContext, opts *resolveOptions) error {
	view, err := contextentity.ParseView(opts.View)
	if err != nil {
		return err
	}

	var ceOpts []contextentity.Option
	if opts.PreImage != "" {
		ceOpts = append(ceOpts, contextentity.WithPreImageName(opts.PreImage))
	}
	if opts.PostImage != "" {
		ceOpts = append(ceOpts, contextentity.WithPostImageName(opts.PostImage))
	}
	ce := contextentity.New(ec, ceOpts...)
	if opts.Index >= 0 {
		if ce = contextentity.NewCollection(ec, ceOpts...).At(opts.Index); ce == nil {
			return fmt.Errorf("no record at index %d of the Targets collection", opts.Index)
		}
	}

	e := ce.Get(view)
	if e == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no %s in context", view)
	}

	out := cmd.OutOrStdout()
	if opts.Text {
		fmt.Fprintf(out, "%s %s\n", e.LogicalName, e.ID)
		for _, name := range e.AttributeNames() {
			fmt.Fprintf(out, "  %s = %s\n", name, handlers.FormatValue(e.Attributes[name]))
		}
		return nil
	}

	data, err := xrm.MarshalEntity(e)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = out.Write(buf.Bytes())
	return err
}
