package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/crm-dedup/internal/model"
)

// Output formats accepted by WriteDecisions.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// WriteDecisions renders decisions in the given format.
func WriteDecisions(w io.Writer, format string, decisions []model.Decision) error {
	if decisions == nil {
		decisions = []model.Decision{}
	}
	switch format {
	case FormatText, "":
		return writeDecisionsText(w, decisions)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(decisions), "report: encode json")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(decisions); err != nil {
			return eris.Wrap(err, "report: encode yaml")
		}
		return eris.Wrap(enc.Close(), "report: close yaml encoder")
	default:
		return eris.Errorf("report: unknown format %q (want text, json or yaml)", format)
	}
}

func writeDecisionsText(w io.Writer, decisions []model.Decision) error {
	if len(decisions) == 0 {
		_, err := fmt.Fprintln(w, "No duplicates found.")
		return eris.Wrap(err, "report: write")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tRECORD\tKEEP\tREASON\tKEY")
	for _, d := range decisions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Action, d.RecordID, d.CanonicalID, d.Reason, d.GroupKey)
	}
	return eris.Wrap(tw.Flush(), "report: flush")
}
