// Package domain models flow cytometry event data and gating.
//
// # Data Source
//
// Samples arrive as FCS list-mode files, either fetched from a public flow
// cytometry repository by accession (see the flowrepo adapter) or read from
// disk. The fcs package decodes files into a [Frame]: one row per measured
// cell ("event"), one column per detector channel.
//
// # Channel Naming
//
// Channels carry two names from the FCS TEXT segment:
//
//	$PnN  short detector name, e.g. "FL1-A", "FSC-A"
//	$PnS  stain/marker label, e.g. "CD4", "CCR7"
//
// Lookups by channel name match $PnN first, then fall back to $PnS, both
// case-insensitively, so gating templates can refer to markers ("CD4")
// while instrument files name detectors ("FL1-A"). See [Frame.ColumnIndex].
//
// # Compensation
//
// Fluorescence spillover between detectors is corrected by right-multiplying
// the fluorescence columns with the inverse of the $SPILLOVER matrix:
//
//	compensated = raw · S⁻¹
//
// The spillover keyword encodes a row-major square matrix prefixed by its
// size and channel names: "3,FL1-A,FL2-A,FL3-A,1,0.02,…". Channels not named
// in the matrix (scatter, time) pass through untouched. See [Compensate].
//
// # Transforms
//
// Fluorescence data spans four to five decades with populations compressed
// near zero, so gating and display happen on transformed scales:
//
//	linear    identity, used for scatter channels
//	arcsinh   asinh(x/cofactor), cofactor 150 for conventional flow, 5 for mass
//	logicle   Parks–Moore biexponential, parameters T (top of scale),
//	          W (linearization width in decades), M (total decades),
//	          A (additional negative decades); instrument default
//	          T=262144, W=0.5, M=4.5, A=0
//
// All transforms are strictly monotone; the logicle maps [−∞, T] into scale
// units with 0 landing at W + A decades above the bottom. See [NewLogicle].
//
// # Gating
//
// A [Strategy] is a tree of named populations, each defined by a geometric
// gate (range, rectangle, polygon, ellipse, or complement) evaluated in one
// or two channel dimensions. Population paths are slash-joined from the
// root, e.g. "/Live/CD3+/CD4+". Membership is hierarchical: an event belongs
// to a population only if it belongs to the parent. Applying a strategy
// yields a [Labeling] with per-population membership bitmaps and a per-event
// label column holding the deepest population containing each event (later
// siblings win when leaf gates overlap, which template order makes
// deterministic).
//
// # ID Generation
//
// Sample IDs are deterministic SHA-256 hashes of name|events|channels. This
// keeps re-analysis of the same file idempotent downstream (ON CONFLICT DO
// NOTHING upserts, replay-safe Kafka consumers) without coordination. See
// [SampleID].
package domain
