/*
Copyright © 2024 the Atomap authors.
This file is part of Atomap.

Atomap is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Atomap is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Atomap.  If not, see <http://www.gnu.org/licenses/>.
*/

package atomaputil

import (
	"fmt"

	"github.com/atomap-dev/atomap"
	"github.com/lnashier/viper"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to Atomap.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "ImageFile",
			usage: `
              ImageFile is the path to the NetCDF file holding the image
              to be processed.`,
			shorthand:  "i",
			defaultVal: "image.nc",
			flagsets:   []*pflag.FlagSet{detectCmd.Flags(), sweepCmd.Flags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile is the path where the processed atom lattice
              will be written.`,
			shorthand:  "o",
			defaultVal: "lattice.gob",
			flagsets:   []*pflag.FlagSet{detectCmd.Flags()},
		},
		{
			name: "RecipeFile",
			usage: `
              RecipeFile is the path to a TOML file describing the
              sublattices to locate. When set, it overrides the
              single-sublattice flags below.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{detectCmd.Flags()},
		},
		{
			name: "Separation",
			usage: `
              Separation is the minimum distance in pixels between two
              atomic columns.`,
			shorthand:  "s",
			defaultVal: 10.0,
			flagsets:   []*pflag.FlagSet{detectCmd.Flags()},
		},
		{
			name: "ThresholdRel",
			usage: `
              ThresholdRel discards peak candidates dimmer than this
              fraction of the image maximum.`,
			defaultVal: 0.02,
			flagsets:   []*pflag.FlagSet{detectCmd.Flags()},
		},
		{
			name: "PCAComponents",
			usage: `
              PCAComponents denoises the image with a truncated principal
              component reconstruction before peak finding, keeping this
              many components. Zero disables denoising.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{detectCmd.Flags(), sweepCmd.Flags()},
		},
		{
			name: "SubtractBackground",
			usage: `
              SubtractBackground removes a smoothed background estimate
              from the image before peak finding.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{detectCmd.Flags(), sweepCmd.Flags()},
		},
		{
			name: "SkipGaussian",
			usage: `
              SkipGaussian stops position refinement after the
              center-of-mass pass, skipping the slower Gaussian fits.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{detectCmd.Flags()},
		},
		{
			name: "ZoneAxes",
			usage: `
              ZoneAxes also constructs zone axes and atom planes for the
              located sublattice.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{detectCmd.Flags()},
		},
		{
			name: "NearestNeighbors",
			usage: `
              NearestNeighbors is the neighbor list size used when
              refining atom positions.`,
			defaultVal: 9,
			flagsets:   []*pflag.FlagSet{detectCmd.Flags()},
		},
		{
			name: "MinSeparation",
			usage: `
              MinSeparation is the smallest separation, in pixels,
              included in the parameter sweep.`,
			defaultVal: 5.0,
			flagsets:   []*pflag.FlagSet{sweepCmd.Flags()},
		},
		{
			name: "MaxSeparation",
			usage: `
              MaxSeparation is the largest separation, in pixels,
              included in the parameter sweep.`,
			defaultVal: 30.0,
			flagsets:   []*pflag.FlagSet{sweepCmd.Flags()},
		},
		{
			name: "SeparationStep",
			usage: `
              SeparationStep is the increment between sweep points, in
              pixels.`,
			defaultVal: 1.0,
			flagsets:   []*pflag.FlagSet{sweepCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("ATOMAP")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(detectCmd)
	Root.AddCommand(sweepCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("atomap: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "atomap",
	Short: "Locate atomic columns in atomic-resolution STEM images.",
	Long: `Atomap locates atomic columns in atomic-resolution scanning
transmission electron microscopy (STEM) images and recovers the lattice
structure of the imaged crystal.

Configuration can be changed by using a configuration file (and providing
the path to the file using the --config flag), by using command-line
arguments, or by setting environment variables in the format 'ATOMAP_var'
where 'var' is the name of the variable to be set.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of Atomap.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("Atomap v%s\n", atomap.Version)
	},
	DisableAutoGenTag: true,
}

// detectCmd locates, refines, and saves the atomic columns in an image.
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Locate atomic columns in an image.",
	Long: `detect finds the atomic columns in an image, refines their
positions with a center-of-mass pass followed by 2-D Gaussian fits,
constructs zone axes and atom planes, and writes the resulting atom
lattice to the output file. A TOML recipe file can describe several
sublattices to be located in sequence.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		im, scale, units, err := ReadImage(Cfg.GetString("ImageFile"))
		if err != nil {
			return err
		}
		recipe, err := recipeFromConfig(Cfg)
		if err != nil {
			return err
		}
		if recipe.Scale == 0 && scale > 0 {
			recipe.Scale = scale
			recipe.Units = units
		}
		lattice, err := ProcessRecipe(im, recipe)
		if err != nil {
			return err
		}
		outputFile := Cfg.GetString("OutputFile")
		if err := SaveLattice(lattice, outputFile); err != nil {
			return err
		}
		Log.WithField("file", outputFile).Info("atom lattice written")
		return nil
	},
	DisableAutoGenTag: true,
}

// sweepCmd reports candidate counts over a range of separations.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Sweep the minimum-separation parameter.",
	Long: `sweep runs the peak finder over a range of minimum separation
values and prints the number of candidate columns found at each, to help
choose the separation matching the imaged lattice.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		im, _, _, err := ReadImage(Cfg.GetString("ImageFile"))
		if err != nil {
			return err
		}
		cfg, err := sweepFromConfig(Cfg)
		if err != nil {
			return err
		}
		lines, err := SweepSeparations(im, cfg)
		if err != nil {
			return err
		}
		for _, line := range lines {
			cmd.Println(line)
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// recipeFromConfig builds a processing recipe from the configuration:
// either by reading the recipe file it names, or from the
// single-sublattice flags.
func recipeFromConfig(cfg *viper.Viper) (*Recipe, error) {
	if rf := cfg.GetString("RecipeFile"); rf != "" {
		return ReadRecipe(rf)
	}
	r := &Recipe{
		Name: "lattice",
		Sublattices: []SublatticeRecipe{{
			Name:               "A",
			Separation:         cast.ToFloat64(cfg.Get("Separation")),
			ThresholdRel:       cast.ToFloat64(cfg.Get("ThresholdRel")),
			PCAComponents:      cast.ToInt(cfg.Get("PCAComponents")),
			SubtractBackground: cfg.GetBool("SubtractBackground"),
			NearestNeighbors:   cast.ToInt(cfg.Get("NearestNeighbors")),
			SkipGaussian:       cfg.GetBool("SkipGaussian"),
			ZoneAxes:           cfg.GetBool("ZoneAxes"),
		}},
	}
	if err := r.Valid(); err != nil {
		return nil, err
	}
	return r, nil
}

// sweepFromConfig builds the sweep configuration from the configuration
// values.
func sweepFromConfig(cfg *viper.Viper) (atomap.SweepConfig, error) {
	sc := atomap.SweepConfig{
		MinSeparation: cast.ToFloat64(cfg.Get("MinSeparation")),
		MaxSeparation: cast.ToFloat64(cfg.Get("MaxSeparation")),
		Step:          cast.ToFloat64(cfg.Get("SeparationStep")),
	}
	sc.PeakConfig = atomap.DefaultPeakConfig(sc.MinSeparation)
	sc.PeakConfig.PCAComponents = cast.ToInt(cfg.Get("PCAComponents"))
	sc.PeakConfig.SubtractBackground = cfg.GetBool("SubtractBackground")
	if err := sc.Valid(); err != nil {
		return atomap.SweepConfig{}, err
	}
	return sc, nil
}
