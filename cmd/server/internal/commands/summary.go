package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mujeresenbici/rodada/internal/aggregate"
	"github.com/mujeresenbici/rodada/internal/logger"
	"github.com/mujeresenbici/rodada/internal/models"
)

// SummaryCmd prints the dashboard aggregate for the configured store.
type SummaryCmd struct {
	Page    int           `help:"registrations page to list, 0 for none" default:"1"`
	JSON    bool          `help:"print the summary as JSON"`
	Timeout time.Duration `help:"how long to wait for the record store" default:"30s"`

	Store StoreFlags `embed:""`

	out io.Writer `kong:"-"`
}

type summaryOutput struct {
	TotalRegistrations int           `json:"total_registrations"`
	TotalCompanions    int           `json:"total_companions"`
	TotalAttendees     int           `json:"total_attendees"`
	AveragePartySize   float64       `json:"average_party_size"`
	Groups             []tallyOutput `json:"groups"`
	Sizes              []tallyOutput `json:"sizes"`
}

type tallyOutput struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

func newSummaryOutput(view *aggregate.View) summaryOutput {
	return summaryOutput{
		TotalRegistrations: view.TotalRegistrations,
		TotalCompanions:    view.TotalCompanions,
		TotalAttendees:     view.TotalAttendees,
		AveragePartySize:   view.AveragePartySize,
		Groups:             toTallyOutput(view.GroupTally),
		Sizes:              toTallyOutput(view.SizeTally),
	}
}

func toTallyOutput(in []aggregate.Tally) []tallyOutput {
	out := make([]tallyOutput, 0, len(in))
	for _, t := range in {
		out = append(out, tallyOutput{Label: t.Label, Count: t.Count})
	}
	return out
}

func (c *SummaryCmd) Run(globals *Globals) error {
	logger.Setup(globals.Debug)

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	st, err := c.Store.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	view, err := aggregate.NewLoader(st).Load(ctx)
	if err != nil {
		return err
	}

	out := c.out
	if out == nil {
		out = os.Stdout
	}

	if c.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(newSummaryOutput(view))
	}

	return printSummary(out, view, c.Page)
}

func printSummary(out io.Writer, view *aggregate.View, page int) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Registros:\t%d\n", view.TotalRegistrations)
	fmt.Fprintf(w, "Integrantes:\t%d\n", view.TotalCompanions)
	fmt.Fprintf(w, "Asistentes:\t%d\n", view.TotalAttendees)
	fmt.Fprintf(w, "Promedio por registro:\t%.1f\n", view.AveragePartySize)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "GRUPO\tTOTAL")
	for _, t := range view.GroupTally {
		fmt.Fprintf(w, "%s\t%d\n", t.Label, t.Count)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "TALLA\tTOTAL")
	for _, t := range view.SizeTally {
		fmt.Fprintf(w, "%s\t%d\n", t.Label, t.Count)
	}

	if page > 0 {
		p := view.Page(page, aggregate.DefaultPageSize)

		fmt.Fprintln(w)
		fmt.Fprintf(w, "Página %d de %d\n", p.Number, p.TotalPages)
		fmt.Fprintln(w, "#\tNOMBRE\tPROCEDENCIA\tEDAD\tGRUPO\tTALLA\tINTEGRANTES\tFECHA")
		for i, e := range p.Entries {
			r := e.Registration
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%d\t%s\n",
				p.FirstIndex+i+1,
				r.Name,
				r.Place,
				r.Age,
				orDash(r.Group),
				orDash(r.Size),
				len(e.Companions),
				r.CreatedAt.Local().Format("02/01/2006 15:04"),
			)
		}
	}

	return w.Flush()
}

func orDash(v *string) string {
	if s := models.StringValue(v); s != "" {
		return s
	}
	return "-"
}
