package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/lgc202/apikit/apierr"
	"github.com/lgc202/apikit/httpx"
)

type requestFlags struct {
	data      string
	query     []string
	headers   []string
	timeout   time.Duration
	requestID string
}

func newRequestCmd(a *app, method string) *cobra.Command {
	var rf requestFlags
	withBody := method == http.MethodPost || method == http.MethodPut

	cmd := &cobra.Command{
		Use:   strings.ToLower(method) + " <path>",
		Short: fmt.Sprintf("Send a %s request and print the response payload", method),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := rf.requestOptions(a.origin)
			if err != nil {
				return err
			}
			var body any
			if rf.data != "" {
				if !json.Valid([]byte(rf.data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				body = json.RawMessage(rf.data)
			}

			c, err := a.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if rf.requestID != "" {
				ctx = httpx.ContextWithRequestID(ctx, rf.requestID)
			}
			req, err := c.NewJSONRequest(ctx, method, args[0], body, opts...)
			if err != nil {
				return err
			}
			payload, err := c.Do(req)
			if err != nil {
				return a.report(err)
			}
			return writePayload(a.stdout, payload)
		},
	}

	f := cmd.Flags()
	if withBody {
		f.StringVarP(&rf.data, "data", "d", "", "JSON request body")
	}
	f.StringArrayVarP(&rf.query, "query", "q", nil, "query parameter key=value (repeatable)")
	f.StringArrayVarP(&rf.headers, "header", "H", nil, "request header 'Key: Value' (repeatable)")
	f.DurationVar(&rf.timeout, "timeout", 0, "per-request timeout, overrides the service timeout")
	f.StringVar(&rf.requestID, "request-id", "", "correlation id sent as X-Request-ID")
	return cmd
}

func (rf requestFlags) requestOptions(origin string) ([]httpx.RequestOption, error) {
	var opts []httpx.RequestOption
	switch origin {
	case "":
	case httpx.OriginInternal, httpx.OriginExternal:
		opts = append(opts, httpx.WithOrigin(origin))
	default:
		return nil, fmt.Errorf("--origin must be internal or external, got %q", origin)
	}
	for _, kv := range rf.query {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--query %q: want key=value", kv)
		}
		opts = append(opts, httpx.WithQueryParam(k, v))
	}
	for _, h := range rf.headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("--header %q: want 'Key: Value'", h)
		}
		opts = append(opts, httpx.WithHeader(strings.TrimSpace(k), strings.TrimSpace(v)))
	}
	if rf.timeout > 0 {
		opts = append(opts, httpx.WithRequestTimeout(rf.timeout))
	}
	return opts, nil
}

// writePayload prints JSON payloads indented and anything else verbatim.
func writePayload(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		buf.Reset()
		buf.Write(payload)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

// report prints a pipeline failure in the selected format.
func (a *app) report(err error) error {
	e, ok := apierr.As(err)
	if !ok {
		return err
	}
	if a.output == "json" {
		b, merr := json.MarshalIndent(e, "", "  ")
		if merr != nil {
			return merr
		}
		fmt.Fprintln(a.stderr, string(b))
		return errReported
	}

	table := uitable.New()
	table.MaxColWidth = 100
	table.Wrap = true
	table.AddRow("status:", e.Status)
	table.AddRow("origin:", e.Origin)
	if e.Code != "" {
		table.AddRow("code:", e.Code)
	}
	table.AddRow("message:", e.Message)
	if e.UserMessage != "" {
		table.AddRow("user message:", e.UserMessage)
	}
	if e.RequestID != "" {
		table.AddRow("request id:", e.RequestID)
	}
	if !e.Payload.IsZero() {
		table.AddRow("payload:", e.Payload.String())
	}
	if e.Cause != nil {
		table.AddRow("cause:", e.Cause.Error())
	}
	fmt.Fprintln(a.stderr, table.String())
	return errReported
}
