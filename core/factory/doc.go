// Package factory builds pluggable components from their configuration
// entry. An entry names a registered type and carries its raw settings,
// which the registered constructor decodes with Decode.
//
// The metrics sinks are assembled this way:
//
//	sink, err := metrics.NewMetricsSink([]factory.ModuleConfig{
//		{Type: "prometheus"},
//		{Type: "influx", Conf: map[string]any{"url": "http://localhost:8086", "bucket": "dispatch"}},
//	})
package factory
