package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"meshgate/internal/config"
	"meshgate/internal/presence"
	logx "meshgate/pkg/logx"
)

var nodesLimit int

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List nodes recorded by the presence store, most recent first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listNodes(cmd.Context(), cmd.OutOrStdout(), configPath, nodesLimit)
	},
}

func init() {
	nodesCmd.Flags().IntVarP(&nodesLimit, "limit", "n", 0, "show at most n nodes (0 = all)")
}

func listNodes(ctx context.Context, w io.Writer, path string, limit int) error {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return err
	}
	if !cfg.SaveNodeDB {
		return errors.New("presence is disabled (save_node_db: false)")
	}
	driver, dbPath := cfg.StorageTarget()
	st, err := presence.Open(presence.Config{Driver: driver, Path: dbPath}, logx.NewConsole("WARN"))
	if err != nil {
		return err
	}
	if st == nil {
		return presence.ErrDisabled
	}
	defer func() { _ = st.Close() }()

	recs, err := st.ListSeen(ctx)
	if err != nil {
		return err
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return writeNodes(w, recs)
}

func writeNodes(w io.Writer, recs []presence.NodeRecord) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "No nodes seen.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSHORT\tLONG\tFIRST SEEN\tLAST SEEN")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.ShortName, r.LongName,
			r.FirstSeen.Local().Format(time.DateTime), r.LastSeen.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
