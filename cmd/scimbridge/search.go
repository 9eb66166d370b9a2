package main

import (
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dhawalhost/scimbridge/internal/connector"
	"github.com/dhawalhost/scimbridge/internal/filter"
	"github.com/dhawalhost/scimbridge/internal/schema"
)

type searchFlags struct {
	uid          string
	name         string
	members      []string
	attrs        []string
	defaults     bool
	allowPartial bool
	pageSize     int
	pageOffset   int
}

func (f searchFlags) request() connector.SearchRequest {
	req := connector.SearchRequest{
		Members: f.members,
		Options: connector.SearchOptions{
			AttributesToGet:             f.attrs,
			ReturnDefaultAttributes:     f.defaults,
			AllowPartialAttributeValues: f.allowPartial,
			PageSize:                    f.pageSize,
			PageOffset:                  f.pageOffset,
		},
	}
	var exprs []filter.Expr
	if f.uid != "" {
		exprs = append(exprs, filter.Equals{Attribute: schema.UIDAttribute, Value: f.uid})
	}
	if f.name != "" {
		exprs = append(exprs, filter.Equals{Attribute: schema.NameAttribute, Value: f.name})
	}
	for _, e := range exprs {
		if req.Filter == nil {
			req.Filter = e
			continue
		}
		req.Filter = filter.And{Left: req.Filter, Right: e}
	}
	return req
}

func newSearchCmd(a *app) *cobra.Command {
	var f searchFlags
	cmd := &cobra.Command{
		Use:   "search <connector-id> <object-class>",
		Short: "Search a connector and print each object as a JSON line.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.registry(prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer registry.Close()

			svc := connector.NewService(registry, connector.ServiceOptions{
				Logger:     a.logger,
				MaxResults: a.cfg.Server.MaxResults,
			})
			resp, err := svc.SearchObjects(cmd.Context(), args[0], args[1], f.request())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, obj := range resp.Objects {
				if err := enc.Encode(obj); err != nil {
					return err
				}
			}
			if resp.RemainingPagedResults >= 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "remaining: %d\n", resp.RemainingPagedResults)
			}
			if resp.Truncated {
				fmt.Fprintf(cmd.ErrOrStderr(), "result truncated at %d objects\n", len(resp.Objects))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.uid, "uid", "", "select the object with this UID")
	flags.StringVar(&f.name, "name", "", "select the object with this NAME")
	flags.StringSliceVar(&f.members, "member", nil, "select groups holding every given member (repeatable)")
	flags.StringSliceVar(&f.attrs, "attrs", nil, "attributes to return")
	flags.BoolVar(&f.defaults, "default-attrs", false, "also return the attributes returned by default")
	flags.BoolVar(&f.allowPartial, "allow-partial", false, "allow incomplete multi-valued attributes")
	flags.IntVar(&f.pageSize, "page-size", 0, "objects per backend request")
	flags.IntVar(&f.pageOffset, "page-offset", 0, "1-based offset of a single page; 0 reads everything")
	return cmd
}
