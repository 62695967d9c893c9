package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MrEthical07/goAuthTree/journey"
	"github.com/MrEthical07/goAuthTree/tree"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <tree>",
	Short: "Walk a journey interactively in the terminal",
	Long: `Starts a journey on the named tree and prompts for every callback on stdin.
When the journey suspends, paste the resume id from the logged link to continue.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		rt, err := newRuntime(cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		ip, _ := cmd.Flags().GetString("client-ip")
		req := journey.Request{ClientIP: ip}
		return runJourney(cmd.Context(), rt.engine, args[0], req, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("client-ip", "127.0.0.1", "client address reported to nodes")
}

// journeyDriver is the part of the engine the terminal loop needs.
type journeyDriver interface {
	Start(ctx context.Context, treeName string, req journey.Request) (tree.Result, error)
	Continue(ctx context.Context, journeyID, nonce string, answers []journey.Callback, req journey.Request) (tree.Result, error)
	Resume(ctx context.Context, resumeID string, req journey.Request) (tree.Result, error)
}

func runJourney(ctx context.Context, d journeyDriver, treeName string, req journey.Request, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sc := bufio.NewScanner(in)

	res, err := d.Start(ctx, treeName, req)
	for {
		if err != nil {
			return err
		}
		switch res.Status {
		case tree.StatusSuccess:
			who := ""
			if id := res.SideEffects.Identity; id != nil {
				who = " as " + id.Username
			}
			fmt.Fprintf(out, "journey succeeded%s\n", who)
			return nil
		case tree.StatusFailure:
			fmt.Fprintln(out, "journey failed")
			return errJourneyFailed
		case tree.StatusSuspended:
			fmt.Fprintln(out, "journey suspended; enter the resume id from the emailed link:")
			line, ok := readLine(sc)
			if !ok {
				return io.ErrUnexpectedEOF
			}
			res, err = d.Resume(ctx, line, req)
			continue
		}

		answers, aerr := promptCallbacks(sc, out, res.Callbacks)
		if aerr != nil {
			return aerr
		}
		res, err = d.Continue(ctx, res.JourneyID, res.Nonce, answers, req)
	}
}

var errJourneyFailed = errors.New("journey failed")

// promptCallbacks asks for a value for every input callback and echoes the rest.
func promptCallbacks(sc *bufio.Scanner, out io.Writer, cbs []journey.Callback) ([]journey.Callback, error) {
	answers := make([]journey.Callback, 0, len(cbs))
	for _, cb := range cbs {
		switch cb.Type {
		case journey.TypeTextOutput:
			fmt.Fprintf(out, "[%s] %s\n", cb.MessageType, cb.Message)
			answers = append(answers, cb)
			continue
		case journey.TypeHidden, journey.TypeDeviceBinding, journey.TypeDeviceSigning:
			answers = append(answers, cb)
			continue
		case journey.TypeRedirect:
			fmt.Fprintf(out, "open %s\n", cb.URI)
			answers = append(answers, cb)
			continue
		}

		label := cb.Prompt
		if label == "" {
			label = cb.Name
		}
		if len(cb.FailedPolicies) > 0 {
			fmt.Fprintf(out, "  failed policies: %s\n", strings.Join(cb.FailedPolicies, ", "))
		}
		if cb.Type == journey.TypeConfirmation {
			for i, opt := range cb.Options {
				fmt.Fprintf(out, "  %d) %s\n", i, opt)
			}
		}
		for {
			fmt.Fprintf(out, "%s: ", label)
			line, ok := readLine(sc)
			if !ok {
				return nil, io.ErrUnexpectedEOF
			}
			if cb.Type == journey.TypeConfirmation && line == "" {
				line = strconv.Itoa(cb.DefaultOption)
			}
			v, err := cb.Value.Set(line)
			if err != nil {
				fmt.Fprintf(out, "  %v\n", err)
				continue
			}
			cb.Value = v
			break
		}
		answers = append(answers, cb)
	}
	return answers, nil
}

func readLine(sc *bufio.Scanner) (string, bool) {
	if !sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(sc.Text()), true
}
