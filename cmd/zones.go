package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/geowatch/geowatch/internal/geo"
	"github.com/geowatch/geowatch/internal/model"
	"github.com/geowatch/geowatch/internal/store"
)

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "Manage monitored zones",
}

var zonesListStatus string

var zonesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List zones",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		zones, err := e.store.ListZones(ctx, store.ZoneFilter{Status: model.ZoneStatus(zonesListStatus)})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tFREQUENCY\tLAST CHECKED\tCHANGES")
		for _, z := range zones {
			last := "never"
			if z.LastCheckedAt != nil {
				last = z.LastCheckedAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
				z.ID, z.Name, z.Status, z.Frequency, last, z.TotalChangesDetected)
		}
		return w.Flush()
	},
}

// zoneSpec is the YAML shape accepted by `zones create -f`.
type zoneSpec struct {
	OwnerID             string         `yaml:"owner_id"`
	Name                string         `yaml:"name"`
	Description         string         `yaml:"description"`
	Geometry            map[string]any `yaml:"geometry"`
	ChangeType          string         `yaml:"change_type"`
	Frequency           string         `yaml:"frequency"`
	ConfidenceThreshold int            `yaml:"confidence_threshold"`
	EmailAlerts         *bool          `yaml:"email_alerts"`
	InAppAlerts         *bool          `yaml:"in_app_alerts"`
}

var zonesCreateFile string

var zonesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a zone from a YAML definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		data, err := os.ReadFile(zonesCreateFile)
		if err != nil {
			return fmt.Errorf("read zone file: %w", err)
		}
		var spec zoneSpec
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return fmt.Errorf("parse zone file: %w", err)
		}

		zone, err := zoneFromSpec(spec)
		if err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.store.CreateZone(ctx, zone); err != nil {
			return err
		}
		fmt.Printf("created zone %s (%s)\n", zone.ID, zone.Name)
		return nil
	},
}

var (
	zonesImportOwner     string
	zonesImportFrequency string
)

var zonesImportCmd = &cobra.Command{
	Use:   "import <shapefile>",
	Short: "Import zones from a shapefile, one zone per polygon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shapes, err := geo.ReadShapefile(args[0])
		if err != nil {
			return err
		}
		if len(shapes) == 0 {
			return fmt.Errorf("no polygons found in %s", args[0])
		}

		freq := model.Frequency(zonesImportFrequency)
		if !freq.Valid() {
			return fmt.Errorf("invalid frequency %q", zonesImportFrequency)
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		created := 0
		for i, shape := range shapes {
			name := shape.Name
			if name == "" {
				name = fmt.Sprintf("imported-%d", i+1)
			}
			zone := &model.Zone{
				OwnerID:             zonesImportOwner,
				Name:                name,
				Geometry:            shape.Geometry,
				ChangeType:          "any",
				Frequency:           freq,
				ConfidenceThreshold: 60,
				EmailAlerts:         true,
				InAppAlerts:         true,
				Status:              model.ZoneStatusActive,
			}
			if err := geo.Validate(zone.Geometry); err != nil {
				zap.L().Warn("skipping invalid shape", zap.Int("record", i), zap.Error(err))
				continue
			}
			if err := e.store.CreateZone(ctx, zone); err != nil {
				return err
			}
			created++
		}

		fmt.Printf("imported %d of %d polygons\n", created, len(shapes))
		return nil
	},
}

func zoneFromSpec(spec zoneSpec) (*model.Zone, error) {
	if spec.OwnerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}
	if spec.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	geometry, err := yamlGeometryToJSON(spec.Geometry)
	if err != nil {
		return nil, err
	}
	if err := geo.Validate(geometry); err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}

	freq := model.Frequency(spec.Frequency)
	if spec.Frequency == "" {
		freq = model.FrequencyWeekly
	} else if !freq.Valid() {
		return nil, fmt.Errorf("invalid frequency %q", spec.Frequency)
	}

	threshold := spec.ConfidenceThreshold
	if threshold == 0 {
		threshold = 60
	}
	if threshold < 0 || threshold > 100 {
		return nil, fmt.Errorf("confidence_threshold must be in [0, 100]")
	}

	emailAlerts := true
	if spec.EmailAlerts != nil {
		emailAlerts = *spec.EmailAlerts
	}
	inAppAlerts := true
	if spec.InAppAlerts != nil {
		inAppAlerts = *spec.InAppAlerts
	}

	changeType := spec.ChangeType
	if changeType == "" {
		changeType = "any"
	}

	return &model.Zone{
		OwnerID:             spec.OwnerID,
		Name:                spec.Name,
		Description:         spec.Description,
		Geometry:            geometry,
		ChangeType:          changeType,
		Frequency:           freq,
		ConfidenceThreshold: threshold,
		EmailAlerts:         emailAlerts,
		InAppAlerts:         inAppAlerts,
		Status:              model.ZoneStatusActive,
	}, nil
}

func yamlGeometryToJSON(geometry map[string]any) (json.RawMessage, error) {
	if len(geometry) == 0 {
		return nil, fmt.Errorf("geometry is required")
	}
	raw, err := json.Marshal(geometry)
	if err != nil {
		return nil, fmt.Errorf("encode geometry: %w", err)
	}
	return raw, nil
}

func init() {
	zonesListCmd.Flags().StringVar(&zonesListStatus, "status", "", "filter by status (active, paused, failed)")
	zonesCreateCmd.Flags().StringVarP(&zonesCreateFile, "file", "f", "", "zone definition YAML file")
	_ = zonesCreateCmd.MarkFlagRequired("file")
	zonesImportCmd.Flags().StringVar(&zonesImportOwner, "owner", "", "owner user id for imported zones")
	_ = zonesImportCmd.MarkFlagRequired("owner")
	zonesImportCmd.Flags().StringVar(&zonesImportFrequency, "frequency", "weekly", "check frequency for imported zones")

	zonesCmd.AddCommand(zonesListCmd, zonesCreateCmd, zonesImportCmd)
	rootCmd.AddCommand(zonesCmd)
}
