package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tripwire/internal/api"
	"github.com/roach88/tripwire/internal/ir"
)

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RootOptions
	Server    string
	Payload   string
	MessageID string
}

// PutResult is the outcome of one put.
type PutResult struct {
	MessageID string            `json:"messageId,omitempty"`
	InputName string            `json:"inputName"`
	Errors    []PutErrorSummary `json:"errors"`
}

// PutErrorSummary is one routing error of a put.
type PutErrorSummary struct {
	Code    string `json:"errorCode"`
	Message string `json:"errorMessage"`
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <input-name>",
		Short: "Put a message to an input of a running interpreter",
		Long: `Put one message to an input of a running interpreter.

The payload is a JSON object. Routing errors, such as an unknown input or
a payload without the model's key attribute, are reported; evaluation
itself happens asynchronously on the server.

Example:
  tripwire put Sensor --payload '{"sensorId":"s1","temp":120}'
  tripwire put Sensor --id m-42 --server http://tripwire:8080 --payload '{"sensorId":"s1","temp":80}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Server, "server", DefaultServer, "interpreter API address")
	cmd.Flags().StringVar(&opts.Payload, "payload", "{}", "message payload as a JSON object")
	cmd.Flags().StringVar(&opts.MessageID, "id", "", "message ID (generated by the server when empty)")

	return cmd
}

func runPut(opts *PutOptions, inputName string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	var raw any
	if err := json.Unmarshal([]byte(opts.Payload), &raw); err != nil {
		return commandError(formatter, ErrCodeInvalidArgs, "invalid --payload JSON", err)
	}
	v, err := ir.FromAny(raw)
	if err != nil {
		return commandError(formatter, ErrCodeInvalidArgs, "invalid --payload JSON", err)
	}
	payload, ok := v.(ir.Object)
	if !ok {
		return commandError(formatter, ErrCodeInvalidArgs, "--payload must be a JSON object", nil)
	}

	req := api.BatchPutRequest{Messages: []ir.Message{{
		MessageID: opts.MessageID,
		InputName: inputName,
		Payload:   payload,
	}}}
	formatter.VerboseLog("POST %s/messages (input %s)", opts.Server, inputName)

	var resp api.BatchPutResponse
	if err := newAPIClient(opts.Server).do(cmd.Context(), "POST", "/messages", req, &resp); err != nil {
		return commandError(formatter, ErrCodeRequest, "put failed", err)
	}

	result := PutResult{MessageID: opts.MessageID, InputName: inputName, Errors: []PutErrorSummary{}}
	for _, e := range resp.Entries {
		result.Errors = append(result.Errors, PutErrorSummary{Code: string(e.ErrorCode), Message: e.ErrorMessage})
	}

	if len(result.Errors) > 0 {
		first := result.Errors[0]
		_ = formatter.Fail(first.Code, first.Message, result, func(w io.Writer) {
			fmt.Fprintf(w, "✗ Message to %s was not routed\n", inputName)
			for _, e := range result.Errors {
				fmt.Fprintf(w, "  %s: %s\n", e.Code, e.Message)
			}
		})
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %s", first.Code, first.Message))
	}
	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Message accepted by %s\n", inputName)
	})
}
