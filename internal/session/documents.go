package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/temirov/ctxsync/internal/document"
	"github.com/temirov/ctxsync/internal/types"
)

const debugPatchFallback = "section missing, regenerating document"

type documentJobKind int

const (
	jobGenerate documentJobKind = iota
	jobPatch
)

// documentJob carries immutable snapshots so the worker never reads session state.
type documentJob struct {
	kind        documentJobKind
	tree        *types.TreeNode
	generator   *document.Generator
	destination string
	format      document.Format
	changedFile string
}

func (session *Session) newJob(kind documentJobKind) documentJob {
	state := &session.state
	return documentJob{
		kind:        kind,
		tree:        state.tree,
		generator:   document.NewGenerator(state.root, session.documentFiles(), session.logger),
		destination: state.destination,
		format:      state.format,
	}
}

// documentFiles is the selection without the destination, which a previous
// run may have written inside the scanned directory.
func (session *Session) documentFiles() []string {
	selected := session.state.model.SelectedFiles()
	files := selected[:0]
	for _, path := range selected {
		if !session.isOwnOutput(path) {
			files = append(files, path)
		}
	}
	return files
}

// enqueueGenerate queues a full generation. It supersedes every job that
// has not reached the worker yet.
func (session *Session) enqueueGenerate() {
	session.state.jobs = append(session.state.jobs[:0], session.newJob(jobGenerate))
}

// enqueuePatch queues a section update unless a queued job already covers it.
func (session *Session) enqueuePatch(changedFile string) {
	for _, queued := range session.state.jobs {
		if queued.kind == jobGenerate || queued.changedFile == changedFile {
			return
		}
	}
	job := session.newJob(jobPatch)
	job.changedFile = changedFile
	session.state.jobs = append(session.state.jobs, job)
}

// documentWorker performs document writes one at a time so that patches and
// regenerations of the same destination never interleave.
func (session *Session) documentWorker(ctx context.Context, jobs <-chan documentJob) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-jobs:
			session.deliver(ctx, session.runJob(job))
		}
	}
}

func (session *Session) runJob(job documentJob) taskResult {
	if job.kind == jobPatch {
		patchError := job.generator.UpdateSection(job.destination, job.changedFile, job.format)
		if !errors.Is(patchError, types.ErrSectionNotFound) {
			return taskResult{kind: SectionPatched, path: job.changedFile, err: patchError}
		}
		session.logger.Debug(debugPatchFallback, zap.String("path", job.destination), zap.Error(patchError))
	}
	summary, generateError := job.generator.GenerateFull(job.tree, job.destination, job.format)
	return taskResult{kind: GenerateCompleted, path: job.destination, summary: summary, err: generateError}
}
