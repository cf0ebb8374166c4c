// Package shared holds helpers used by more than one package.
//
// testutil provides a capturing slog handler and on-disk fixtures (OpenQuake
// hazard curve files, spectra tables) for tests.
package shared
