// Command subhaloflow derives subhalo features from merger-tree output,
// trains a normalizing flow on them, draws emulated subhalos and compares
// the two populations.
//
//	subhaloflow derive  --fields 'nodes/*.csv' --config run.yaml
//	subhaloflow train   --epochs 100 --metrics-addr :9090
//	subhaloflow sample  --samples 3000
//	subhaloflow compare
package main

import (
	"flag"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     cliConfig
}

func newApp() *app {
	a := &app{v: viper.New()}
	setDefaults(a.v)
	return a
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "subhaloflow",
		Short:         "Normalizing-flow emulator for dark-matter subhalo populations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := readConfig(a.v, a.cfgFile); err != nil {
				return err
			}
			cfg, err := loadConfig(a.v)
			if err != nil {
				return err
			}
			a.cfg = cfg
			if used := a.v.ConfigFileUsed(); used != "" {
				klog.V(1).Infof("using config file %s", used)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default ./.subhaloflow.yaml)")
	addFlags(pf)
	if err := bindFlags(a.v, pf); err != nil {
		klog.Fatalf("%v", err)
	}

	gofs := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(gofs)
	pf.AddGoFlagSet(gofs)

	root.AddCommand(
		&cobra.Command{
			Use:   "derive",
			Short: "Derive the six subhalo features from raw node fields",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runDerive(a.cfg)
			},
		},
		&cobra.Command{
			Use:   "train",
			Short: "Train the flow on the derived features and save a snapshot",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runTrain(cmd.Context(), a.cfg)
			},
		},
		&cobra.Command{
			Use:   "sample",
			Short: "Draw emulated subhalos from a trained snapshot",
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, err := runSample(a.cfg)
				return err
			},
		},
		&cobra.Command{
			Use:   "compare",
			Short: "Compare emulated and source populations and plot them",
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, err := runCompare(a.cfg)
				return err
			},
		},
	)
	return root
}

func main() {
	defer klog.Flush()
	if err := newApp().rootCmd().Execute(); err != nil {
		klog.Errorf("%v", err)
		klog.Flush()
		os.Exit(1)
	}
}
