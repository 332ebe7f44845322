package main

import (
	"context"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"flowcraft.ai/internal/persistence/archive"
	"flowcraft.ai/internal/persistence/indexdb"
	"flowcraft.ai/internal/persistence/r2s3"
	"flowcraft.ai/internal/persistence/snapshot"
)

// snapshotWriter persists snapshots off the world goroutine, then indexes, mirrors, archives and
// prunes them.
type snapshotWriter struct {
	worldDir     string
	index        indexdb.Index
	mirror       *r2s3.Mirror
	archiveEvery uint64
	keep         int
	log          logrus.FieldLogger
}

func (s snapshotWriter) run(ctx context.Context, ch <-chan snapshot.SnapshotV1) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			s.handle(snap)
		}
	}
}

func (s snapshotWriter) handle(snap snapshot.SnapshotV1) {
	log := s.log.WithField("tick", snap.Header.Tick)
	path := snapshot.Path(s.worldDir, snap.Header.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		log.WithError(err).Error("snapshot write failed")
		return
	}
	log.WithField("path", path).Info("snapshot written")

	if s.index != nil {
		s.index.RecordSnapshot(path, snap)
	}
	s.mirror.Enqueue(path)

	if archivedPath, ok, err := archive.ArchiveCheckpoint(s.worldDir, path, snap, s.archiveEvery); err != nil {
		log.WithError(err).Warn("archive checkpoint failed")
	} else if ok {
		log.WithField("path", archivedPath).Info("checkpoint archived")
		s.mirror.Enqueue(archivedPath)
		enqueueIfExists(s.mirror, filepath.Join(filepath.Dir(archivedPath), "meta.json"))
	}

	removed, err := archive.PruneSnapshots(s.worldDir, s.keep)
	if err != nil {
		log.WithError(err).Warn("snapshot prune failed")
	}
	if len(removed) > 0 {
		log.WithField("removed", len(removed)).Debug("old snapshots pruned")
	}
}
