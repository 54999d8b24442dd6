// Package icemeta maintains the metadata of Apache Iceberg tables: the
// manifest files that list data files, the manifest lists that group
// manifests into snapshots, and the snapshots committed to a catalog under
// optimistic concurrency.
//
// # Quick Start
//
// Create a client connected to a REST catalog:
//
//	client, err := icemeta.NewClient(ctx,
//	    icemeta.WithRESTCatalog("http://localhost:8181"),
//	    icemeta.WithWarehouse("s3://my-bucket/warehouse"),
//	)
//
// Append data files written elsewhere:
//
//	df, err := table.DataFileFromParquet(ctx, st, "s3://my-bucket/warehouse/db/events/data/0.parquet")
//	df.Partition = map[string]any{"event_day": "2024-05-01"}
//	res, err := client.AddDataFiles(ctx, "db.events",
//	    []table.FileList{{Files: []manifest.DataFileInput{df}}}, table.AddOptions{})
//
// Merge small manifests:
//
//	res, err := client.ManifestCompact(ctx, "db.events", table.CompactOptions{})
//
// # Concurrency
//
// Commits are guarded by "main still points at the snapshot I read". A
// writer that loses the race to a concurrent append at the same sequence
// number rebuilds its manifests and retries; any other conflict is
// returned as ErrConflict.
package icemeta
