package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nearby-tasks/internal/geo"
	"nearby-tasks/internal/location"
	"nearby-tasks/internal/model"
	"nearby-tasks/internal/notify"
	"nearby-tasks/internal/service"
)

var (
	scanLat    float64
	scanLon    float64
	scanUserID string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one proximity check for a position and print the tasks in range",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		pos := model.DevicePosition{
			Coordinate: geo.Coordinate{Latitude: scanLat, Longitude: scanLon},
			Timestamp:  time.Now(),
		}
		if !pos.Valid() {
			return fmt.Errorf("invalid position %v", pos.Coordinate)
		}
		return runScan(cmd.Context(), rt, pos)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Float64Var(&scanLat, "lat", 0, "Device latitude")
	scanCmd.Flags().Float64Var(&scanLon, "lon", 0, "Device longitude")
	scanCmd.Flags().StringVar(&scanUserID, "user", "", "Task owner on the local store (defaults to AGENT_USER_ID)")
	_ = scanCmd.MarkFlagRequired("lat")
	_ = scanCmd.MarkFlagRequired("lon")
}

func runScan(ctx context.Context, rt *runtime, pos model.DevicePosition) error {
	backend, closeFn, err := openBackend(rt)
	if err != nil {
		return err
	}
	defer closeFn()

	owner := scanUserID
	if owner == "" {
		owner = rt.cfg.Agent.UserID
	}
	identity := backend.userIdentity(owner)

	book := location.NewBook(0)
	book.Update("scan", pos, 0)

	sc := rt.sessionConfig()
	ctrl := service.NewController(service.ControllerConfig{
		Name:         "proximity:scan",
		RadiusMeters: sc.RadiusMeters,
		TickTimeout:  sc.TickTimeout,
	}, service.ControllerDeps{
		Identity:  identity,
		Locator:   book.Locator("scan"),
		Notifier:  notify.NewLog(rt.log),
		Tasks:     backend.store,
		Scheduler: service.NewSchedulerService(time.Local, rt.log),
		Logger:    rt.log,
	})

	report, err := ctrl.RunOnce(ctx)
	if err != nil {
		return err
	}

	if len(report.Hits) == 0 {
		fmt.Printf("No pending tasks within %.0f m.\n", sc.RadiusMeters)
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DISTANCE\tID\tTITLE")
	for _, hit := range report.Hits {
		fmt.Fprintf(w, "%.0f m\t%s\t%s\n", hit.Distance, hit.Task.ID, hit.Task.Title)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if report.Notified != nil {
		rt.log.Debug("alert raised", zap.String("task_id", report.Notified.TaskID))
	}
	return nil
}
