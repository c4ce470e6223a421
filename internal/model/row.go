package model

// Row is one ordered tuple of raw cell values pulled from a row source.
// Positions line up with the source's declared column names. Values may
// be nil; encoding decides how nil and time values are rendered.
type Row []any
