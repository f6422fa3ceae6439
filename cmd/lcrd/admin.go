package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arzzra/callrouter/pkg/admin"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Показать состояние интерфейсов, мостов и вызовов",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *admin.Client) error {
			rep, err := c.State(ctx)
			if err != nil {
				return err
			}
			printReport(rep)
			return nil
		})
	},
}

var blockCmd = &cobra.Command{
	Use:   "block [interface]",
	Short: "Заблокировать новые вызовы на порту или интерфейсе",
	Args:  cobra.MaximumNArgs(1),
	RunE:  blockRunE(true),
}

var unblockCmd = &cobra.Command{
	Use:   "unblock [interface]",
	Short: "Снять блокировку",
	Args:  cobra.MaximumNArgs(1),
	RunE:  blockRunE(false),
}

func blockRunE(blocked bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var iface string
		if len(args) > 0 {
			iface = args[0]
		}
		return withClient(cmd.Context(), func(ctx context.Context, c *admin.Client) error {
			return c.Block(ctx, iface, blocked)
		})
	}
}

var releaseCmd = &cobra.Command{
	Use:   "release <ref>",
	Short: "Освободить вызов по ссылке маршрутизации",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("некорректная ссылка %q: %w", args[0], err)
		}
		return withClient(cmd.Context(), func(ctx context.Context, c *admin.Client) error {
			return c.Release(ctx, uint32(ref))
		})
	},
}

func withClient(parent context.Context, fn func(ctx context.Context, c *admin.Client) error) error {
	path, err := adminSocket()
	if err != nil {
		return err
	}
	c, err := admin.Dial(path, timeout)
	if err != nil {
		return err
	}
	defer c.Close()

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return fn(ctx, c)
}

func printReport(rep *admin.Report) {
	s := rep.Summary
	fmt.Printf("Версия: %s\n", s.Version)
	fmt.Printf("Запущен: %s (%s)\n", s.StartedAt.Format(time.RFC3339), time.Since(s.StartedAt).Truncate(time.Second))
	if s.LogFile != "" {
		fmt.Printf("Журнал: %s\n", s.LogFile)
	}
	if s.Blocked {
		fmt.Println("Новые вызовы заблокированы")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if len(rep.Interfaces) > 0 {
		fmt.Fprintln(w, "\nИНТЕРФЕЙС\tНОМЕР\tКАНАЛЫ\tНАЗНАЧЕНО\tЗАНЯТО\tБЛОК")
		for _, i := range rep.Interfaces {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%t\n", i.Name, i.Number, i.Channels, i.Assigned, i.Busy, i.Blocked)
		}
	}
	for _, r := range rep.Remotes {
		fmt.Fprintf(w, "\nМАРШРУТИЗАЦИЯ\t%s\tсобеседник %q\tсвязь %t\n", r.App, r.Peer, r.Linked)
	}
	if len(rep.Joins) > 0 {
		fmt.Fprintln(w, "\nМОСТ\tУЧАСТНИКИ")
		for _, j := range rep.Joins {
			fmt.Fprintf(w, "%d\t%d\n", j.ID, j.Members)
		}
	}
	if len(rep.Endpoints) > 0 {
		fmt.Fprintln(w, "\nССЫЛКА\tВЫЗОВ")
		for _, e := range rep.Endpoints {
			fmt.Fprintf(w, "%d\t%d\n", e.Ref, e.Call)
		}
	}
	if len(rep.Ports) > 0 {
		fmt.Fprintln(w, "\nВЫЗОВ\tПОРТ\tСОСТОЯНИЕ\tКАНАЛ\tОТКУДА\tКОМУ\tИСТОЧНИК")
		for _, p := range rep.Ports {
			ch := "-"
			if p.Channel >= 0 {
				ch = strconv.Itoa(p.Channel)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", p.Serial, p.Name, p.State, ch, p.Caller, p.Dialed, p.Origin)
		}
	}
}
