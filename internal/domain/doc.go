// Package domain models hydrodynamic model output: mesh nodes, per-element
// time series, and the dated batches they are ingested in.
//
// # Data Source
//
// A hydrodynamic forecast model writes its results under a fixed tree:
//
//	<root>/TT_HD/Results/<DateKey>[-newmesh]/[TimeSeries/]<file>
//
// Each run directory holds mesh files (every element of an unstructured mesh,
// category arrays shaped [time][element]) and point-series files (a handful of
// named items sampled at one location). Filenames carry the client name and a
// file-kind marker; forecast files add a three-digit horizon before the
// extension, e.g. "TT_HD_ACME_F024.dfs0".
//
// # DateKey
//
// A DateKey is the ten-character YYYYMMDDHH name of a run directory, e.g.
// "2021010112". Directories started on a fresh mesh carry a "-newmesh" tag,
// which is not part of the key. The key is both a path fragment and the
// primary key of the ingestion ledger.
//
// # Mesh Conventions
//
// Nodes carry longitude, latitude and a normalized vertical position Z in
// [0, 1]; Z = 1 is the surface layer. Every node of one water column shares
// (lon, lat) up to floating-point noise, so column membership is decided with
// an absolute+relative closeness test rather than equality.
//
// Directions are stored in radians and may exceed one revolution or be
// negative. Polar output reduces them to degrees in [0, 360).
//
// # Rows
//
// Committed measurements are stored narrow: one [Row] per
// (DateKey, timestamp, category). Forecast runs overlap in time, so the same
// timestamp may appear under several DateKeys; exports keep the newest.
package domain
