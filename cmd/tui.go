package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/urfave/cli/v2"

	"github.com/webitel/connpool/internal/pool/controller"
)

func dashboardCmd() *cli.Command {
	return &cli.Command{
		Name:  "dashboard",
		Usage: "Live terminal dashboard polling a running pool's admin surface",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Admin HTTP base URL",
				Value: "http://127.0.0.1:8090",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Poll interval",
				Value: time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			return runDashboard(c.String("addr"), c.Duration("interval"))
		},
	}
}

func runDashboard(addr string, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	defer ui.Close()

	active := widgets.NewGauge()
	active.Title = "Active"
	active.SetRect(0, 0, 50, 3)

	idle := widgets.NewGauge()
	idle.Title = "Idle"
	idle.SetRect(0, 3, 50, 6)

	waiting := widgets.NewParagraph()
	waiting.Title = "Threads Waiting"
	waiting.SetRect(0, 6, 50, 9)

	render := func(s controller.Snapshot) {
		total := s.Total
		if total == 0 {
			total = 1
		}
		active.Percent = s.Active * 100 / total
		active.Label = fmt.Sprintf("%d/%d", s.Active, s.Total)
		idle.Percent = s.Idle * 100 / total
		idle.Label = fmt.Sprintf("%d/%d", s.Idle, s.Total)
		waiting.Text = fmt.Sprintf("%d", s.Waiting)
		ui.Render(active, idle, waiting)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()
	client := &http.Client{Timeout: interval}

	for {
		select {
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			}
		case <-ticker.C:
			s, err := fetchStats(client, addr)
			if err != nil {
				waiting.Text = "error: " + err.Error()
				ui.Render(waiting)
				continue
			}
			render(s)
		}
	}
}

func fetchStats(client *http.Client, addr string) (controller.Snapshot, error) {
	resp, err := client.Get(addr + "/stats")
	if err != nil {
		return controller.Snapshot{}, err
	}
	defer resp.Body.Close()

	var s controller.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return controller.Snapshot{}, err
	}
	return s, nil
}
