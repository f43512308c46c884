package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/linkkeeper/internal/clifmt"
	"github.com/quailyquaily/linkkeeper/linking"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var validFormats = []string{"text", "json", "yaml"}

type statusView struct {
	ExternalID string `json:"external_id" yaml:"external_id"`
	State      string `json:"state" yaml:"state"`
	SubjectID  int64  `json:"subject_id,omitempty" yaml:"subject_id,omitempty"`
	Code       string `json:"code,omitempty" yaml:"code,omitempty"`
	Attempts   int    `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	CreatedAt  string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

func newStatusView(externalID string, st linking.Status) statusView {
	v := statusView{
		ExternalID: externalID,
		State:      string(st.State),
		SubjectID:  st.SubjectID,
		Code:       st.Code,
		Attempts:   st.Attempts,
	}
	if !st.CreatedAt.IsZero() && st.State != linking.StateAbsent {
		v.CreatedAt = st.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !st.ExpiresAt.IsZero() {
		v.ExpiresAt = st.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return v
}

func newStatusCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status <externalID>",
		Short: "Show the link state of one chat identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(format) {
				return fmt.Errorf("invalid format %q: must be one of %v", format, validFormats)
			}
			if err := validateConfig(false); err != nil {
				return err
			}
			log := slog.Default()
			st, err := openStore(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer closeStore(st, log)

			status, err := offlineService(st, log).Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), format, newStatusView(args[0], status))
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format (text|json|yaml)")
	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}

func writeStatus(w io.Writer, format string, v statusView) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}

	var b strings.Builder
	b.WriteString(clifmt.Headerf("Link %s", v.ExternalID))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n", clifmt.Key("state:"), clifmt.LinkState(v.State))
	if v.SubjectID != 0 {
		fmt.Fprintf(&b, "%s %d\n", clifmt.Key("subject:"), v.SubjectID)
	}
	if v.Code != "" {
		fmt.Fprintf(&b, "%s %s (attempts %d)\n", clifmt.Key("code:"), v.Code, v.Attempts)
	}
	if v.CreatedAt != "" {
		fmt.Fprintf(&b, "%s %s\n", clifmt.Key("created:"), v.CreatedAt)
	}
	if v.ExpiresAt != "" {
		fmt.Fprintf(&b, "%s %s\n", clifmt.Key("expires:"), v.ExpiresAt)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
