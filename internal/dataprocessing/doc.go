// Package dataprocessing reads the inputs of a convolution run.
//
// It consolidates the two input formats into hazard package types:
//
//  1. Hazard curves: OpenQuake CSV exports, one file per intensity measure,
//     with a header lon,lat[,depth],poe-<level>,... and one row per site.
//  2. Spectra tables: rock or surface spectral values as CSV or XLSX, with a
//     header record,PGA,SA(0.1),... and one row per ground-motion record.
//
// # Usage
//
//	site, err := dataprocessing.LoadSite(cfg.HazardDir, cfg.HazardPattern, cfg.SiteID)
//	if err != nil {
//	    return err
//	}
//	rock, err := dataprocessing.ReadSpectraTable(cfg.RockSpectra, cfg.SpectraSheet)
//	surface, err := dataprocessing.ReadSpectraTable(cfg.SurfaceSpectra, cfg.SpectraSheet)
//	pairs, err := dataprocessing.PairSpectra(rock, surface, site.Measures())
package dataprocessing
