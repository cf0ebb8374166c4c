// Package config provides centralized configuration for the site-effects
// convolution tools.
//
// # Configuration Sources
//
// Configuration is assembled from the following sources, later ones winning:
//
//  1. Default values (Default)
//  2. A YAML file: $SITEHAZARD_CONFIG_FILE, ./sitehazard.yaml or ./configs/sitehazard.yaml
//  3. Environment variables (highest priority)
//
// # Environment Variables
//
// Variables follow the pattern SITEHAZARD_<SECTION>_<FIELD>:
//
//	SITEHAZARD_SERVER_PORT=8080
//	SITEHAZARD_ENGINE_MAX_WORKERS=8
//	SITEHAZARD_INPUT_SITE_ID=0
//	SITEHAZARD_INPUT_ROCK_SPECTRA=data/rock_spectra.csv
//	SITEHAZARD_DATABASE_URL=postgres://...
//	SITEHAZARD_STORAGE_ENABLED=true
package config
