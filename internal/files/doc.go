// Package files provides discovery of hazard-curve inputs on disk.
//
// OpenQuake exports one CSV per intensity measure, named like
// hazard_curve-mean-PGA_27.csv or hazard_curve-mean-SA(0.2)_27.csv.
// Discovery finds those files and keys them by measure name.
//
// Example usage:
//
//	discovery := files.NewDiscovery("/path/to/base")
//	curves, err := discovery.FindHazardCurveFiles("oq_output", "hazard_curve-mean-*.csv")
//	if err != nil {
//	    return err
//	}
//	pga := curves["PGA"]
package files
