package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ignite/jobmatch-batch/internal/domain"
	"github.com/ignite/jobmatch-batch/internal/matching"
	"github.com/ignite/jobmatch-batch/internal/pkg/logger"
	"github.com/ignite/jobmatch-batch/internal/scoring"
)

// jobUniverseWindow bounds the candidate universe to recent postings.
const jobUniverseWindow = 30 * 24 * time.Hour

// historyRetentionDays drives CLEANUP pruning of old applications.
const historyRetentionDays = 90

// runInit warms the static caches and clears run-lifetime state.
func (r *Runner) runInit(ctx context.Context, st *run) (PhaseResult, error) {
	var res PhaseResult

	adjacency, err := r.store.LoadPrefectureAdjacency(ctx)
	if err != nil {
		return res, fmt.Errorf("load adjacency: %w", err)
	}
	hierarchy, err := r.store.LoadOccupationHierarchy(ctx)
	if err != nil {
		return res, fmt.Errorf("load occupation hierarchy: %w", err)
	}
	r.caches.Static.Warm(adjacency, hierarchy)
	r.caches.Run.Reset()

	log.Printf("[Pipeline] batch=%s INIT warmed caches: %d prefectures, %d occupation codes",
		st.batch.BatchID, len(adjacency), len(hierarchy))
	res.Processed = int64(len(adjacency) + len(hierarchy))
	res.Succeeded = res.Processed
	return res, nil
}

// runImport pulls validated rows from the external importer, dedups on
// external_id keeping the last occurrence, upserts, then loads and
// packs the scoring universe.
func (r *Runner) runImport(ctx context.Context, st *run) (PhaseResult, error) {
	var res PhaseResult

	rows, err := r.source.Rows(ctx)
	if err != nil {
		return res, fmt.Errorf("import source: %w", err)
	}
	res.Processed = int64(len(rows))

	deduped := dedupeByExternalID(rows)
	if dropped := len(rows) - len(deduped); dropped > 0 {
		log.Printf("[Pipeline] batch=%s IMPORT dropped %d duplicate external ids", st.batch.BatchID, dropped)
	}

	written, err := r.store.UpsertJobs(ctx, deduped)
	if err != nil {
		return res, fmt.Errorf("upsert jobs: %w", err)
	}
	res.Succeeded = int64(written)

	jobs, err := r.store.LoadJobsSince(ctx, st.now.Add(-jobUniverseWindow))
	if err != nil {
		return res, fmt.Errorf("load job universe: %w", err)
	}
	st.packed = scoring.Pack(jobs, r.caches.Static, st.now)
	if err := r.warmPopularity(ctx, st); err != nil {
		return res, fmt.Errorf("warm company popularity: %w", err)
	}

	log.Printf("[Pipeline] batch=%s IMPORT upserted %d jobs, packed universe of %d (median hourly %.0f)",
		st.batch.BatchID, written, st.packed.Len(), st.packed.MedianHourly())
	return res, nil
}

// warmPopularity loads the hourly popularity rollups for every company
// in the packed universe into the session cache. Companies still warm
// from the current hour bucket are not reloaded.
func (r *Runner) warmPopularity(ctx context.Context, st *run) error {
	seen := make(map[string]struct{}, st.packed.Len())
	var cold []string
	for i := range st.packed.Jobs {
		code := st.packed.Jobs[i].CompanyCode
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		if _, ok := r.caches.Session.GetPopularity(code); !ok {
			cold = append(cold, code)
		}
	}
	if len(cold) == 0 {
		return nil
	}
	rollups, err := r.store.LoadCompanyPopularity(ctx, cold)
	if err != nil {
		return err
	}
	for _, p := range rollups {
		r.caches.Session.PutPopularity(p)
	}
	log.Printf("[Pipeline] batch=%s IMPORT warmed popularity for %d/%d companies",
		st.batch.BatchID, len(rollups), len(seen))
	return nil
}

// dedupeByExternalID keeps the last occurrence per external_id,
// preserving first-seen order for everything else.
func dedupeByExternalID(rows []domain.Job) []domain.Job {
	last := make(map[string]int, len(rows))
	for i, row := range rows {
		last[row.ExternalID] = i
	}
	out := make([]domain.Job, 0, len(last))
	for i, row := range rows {
		if last[row.ExternalID] == i {
			out = append(out, row)
		}
	}
	return out
}

// runMatching streams users in id order, matches them in chunks on the
// worker pool, persists scores and checkpoints the frontier.
func (r *Runner) runMatching(ctx context.Context, st *run) (PhaseResult, error) {
	var res PhaseResult
	if st.packed == nil || st.packed.Len() == 0 {
		return res, fmt.Errorf("no packed job universe; IMPORT did not run")
	}

	frontier := domain.MatchingFrontier{}
	if st.resume {
		if cp, err := r.store.ReadCheckpoint(ctx, st.batch.BatchID, domain.PhaseMatching); err == nil {
			if jerr := json.Unmarshal(cp.Payload, &frontier); jerr != nil {
				return res, fmt.Errorf("corrupt matching checkpoint: %w", jerr)
			}
			log.Printf("[Pipeline] batch=%s MATCHING resuming after user_id=%d (processed=%d)",
				st.batch.BatchID, frontier.LastUserID, frontier.Processed)
		}
	}
	res.Processed = frontier.Processed
	res.Failed = frontier.Failed

	if st.resume && frontier.LastUserID > 0 && len(st.slates) == 0 {
		if err := r.rebuildSlates(ctx, st, frontier.LastUserID); err != nil {
			return res, err
		}
	}

	totalUsers, err := r.store.CountActiveUsers(ctx)
	if err != nil {
		return res, fmt.Errorf("count users: %w", err)
	}

	afterID := frontier.LastUserID
	sinceCheckpoint := 0
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		users, err := r.store.LoadActiveUsers(ctx, afterID, r.cfg.Matching.BatchSize)
		if err != nil {
			return res, fmt.Errorf("load users after %d: %w", afterID, err)
		}
		if len(users) == 0 {
			break
		}

		bundles, err := r.loadBundles(ctx, users)
		if err != nil {
			return res, err
		}

		results := r.pool.RunChunk(ctx, bundles, st.packed, st.now)
		for i, result := range results {
			res.Processed++
			if result.Err != nil {
				res.Failed++
				res.record(result.Err)
				r.metrics.RecordError(result.Err)
				log.Printf("[Pipeline] batch=%s MATCHING user=%d failed: %v", st.batch.BatchID, result.UserID, result.Err)
				continue
			}
			res.Succeeded++
			st.slates[result.UserID] = result.Slate
			st.users[result.UserID] = bundles[i].User
			if _, err := r.store.WriteScoresBulk(ctx, st.batch.BatchID, result.Scores); err != nil {
				return res, fmt.Errorf("persist scores user=%d: %w", result.UserID, err)
			}
			if result.Slate.Size() < r.cfg.Sections.Total {
				res.ErrorSummary = recordShortfall(res.ErrorSummary, r.cfg.Sections.Total-result.Slate.Size())
			}
		}

		afterID = users[len(users)-1].UserID
		sinceCheckpoint += len(users)

		if sinceCheckpoint >= r.cfg.Matching.CheckpointInterval {
			if err := r.checkpointFrontier(ctx, st, afterID, res); err != nil {
				return res, err
			}
			sinceCheckpoint = 0
			if res.Processed > 0 {
				failureRate := float64(res.Failed) / float64(res.Processed)
				if failureRate > r.cfg.Matching.UserFailureRateThreshold {
					return res, fmt.Errorf("user failure rate %.3f over threshold %.3f",
						failureRate, r.cfg.Matching.UserFailureRateThreshold)
				}
			}
		}
	}

	if err := r.checkpointFrontier(ctx, st, afterID, res); err != nil {
		return res, err
	}
	log.Printf("[Pipeline] batch=%s MATCHING finished %d/%d users (failed=%d)",
		st.batch.BatchID, res.Processed, totalUsers, res.Failed)
	return res, nil
}

// rebuildSlates re-matches every user at or before the checkpoint
// frontier without re-persisting their scores. Scores landed before the
// crash; the in-memory slates did not, and EMAIL_QUEUE reads them from
// memory. Matching is deterministic, so the rebuilt slates equal the
// pre-crash ones against the same universe.
func (r *Runner) rebuildSlates(ctx context.Context, st *run, lastUserID int64) error {
	var afterID int64
	rebuilt := 0
	for afterID < lastUserID {
		users, err := r.store.LoadActiveUsers(ctx, afterID, r.cfg.Matching.BatchSize)
		if err != nil {
			return fmt.Errorf("rebuild slates after %d: %w", afterID, err)
		}
		if len(users) == 0 {
			break
		}
		afterID = users[len(users)-1].UserID
		cut := len(users)
		for cut > 0 && users[cut-1].UserID > lastUserID {
			cut--
		}
		users = users[:cut]
		if len(users) == 0 {
			break
		}

		bundles, err := r.loadBundles(ctx, users)
		if err != nil {
			return err
		}
		results := r.pool.RunChunk(ctx, bundles, st.packed, st.now)
		for i, result := range results {
			if result.Err != nil {
				log.Printf("[Pipeline] batch=%s MATCHING rebuild user=%d failed: %v",
					st.batch.BatchID, result.UserID, result.Err)
				continue
			}
			st.slates[result.UserID] = result.Slate
			st.users[result.UserID] = bundles[i].User
			rebuilt++
		}
	}
	log.Printf("[Pipeline] batch=%s MATCHING rebuilt %d slates up to user_id=%d",
		st.batch.BatchID, rebuilt, lastUserID)
	return nil
}

// recordShortfall counts slates that ended short of the target even
// after supplementation.
func recordShortfall(summary map[string]int, missing int) map[string]int {
	if summary == nil {
		summary = make(map[string]int)
	}
	summary["slate_shortfall"] += missing
	return summary
}

// loadBundles bulk-loads everything the chunk's users need: one query
// per concern, not per user. History goes through the run cache so a
// retried chunk skips the reload.
func (r *Runner) loadBundles(ctx context.Context, users []domain.User) ([]matching.UserBundle, error) {
	ids := make([]int64, len(users))
	for i := range users {
		ids[i] = users[i].UserID
	}

	histories := make(map[int64][]domain.Application, len(ids))
	var missing []int64
	for _, id := range ids {
		if apps, ok := r.caches.Run.History(id); ok {
			histories[id] = apps
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		loaded, err := r.store.LoadUserHistory(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		for _, id := range missing {
			apps := loaded[id]
			r.caches.Run.PutHistory(id, apps)
			histories[id] = apps
		}
	}

	profiles, err := r.store.LoadUserProfiles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	clicks, err := r.store.LoadClickEvents(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load clicks: %w", err)
	}

	bundles := make([]matching.UserBundle, len(users))
	for i := range users {
		id := users[i].UserID
		bundles[i] = matching.UserBundle{
			User:    &users[i],
			Profile: profiles[id],
			History: histories[id],
			Clicks:  clicks[id],
		}
	}
	return bundles, nil
}

// checkpointFrontier persists the MATCHING restart frontier.
func (r *Runner) checkpointFrontier(ctx context.Context, st *run, lastUserID int64, res PhaseResult) error {
	payload, err := json.Marshal(domain.MatchingFrontier{
		LastUserID: lastUserID,
		Processed:  res.Processed,
		Failed:     res.Failed,
	})
	if err != nil {
		return err
	}
	cp := domain.Checkpoint{
		BatchID: st.batch.BatchID,
		Phase:   domain.PhaseMatching,
		At:      time.Now(),
		Payload: payload,
	}
	if err := r.store.WriteCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("checkpoint frontier at user %d: %w", lastUserID, err)
	}
	return nil
}

// runEmailQueue renders and queues one email per slated user. The
// upsert key (batch_id, user_id) makes a retry a no-op for users
// already queued.
func (r *Runner) runEmailQueue(ctx context.Context, st *run) (PhaseResult, error) {
	var res PhaseResult
	var errs *multierror.Error

	records := make([]domain.EmailRecord, 0, r.cfg.Matching.BatchSize)
	flush := func() error {
		if len(records) == 0 {
			return nil
		}
		n, err := r.store.WriteEmailQueue(ctx, records)
		if err != nil {
			return err
		}
		r.metrics.AddEmailsQueued(int64(n))
		records = records[:0]
		return nil
	}

	for userID, slate := range st.slates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Processed++
		user, ok := st.users[userID]
		if !ok {
			continue // slate without a loaded user; resumed run artifact
		}
		rec, err := r.builder.Build(ctx, user, slate, st.correlationID, st.batch.BatchID, st.now)
		if err != nil {
			res.Failed++
			res.record(err)
			errs = multierror.Append(errs, err)
			logger.Warn("email render failed",
				"batch_id", st.batch.BatchID,
				"user_id", userID,
				"email", user.Email,
				"error", err.Error())
			continue
		}
		res.Succeeded++
		records = append(records, rec)
		if len(records) >= r.cfg.Matching.BatchSize {
			if err := flush(); err != nil {
				return res, fmt.Errorf("queue emails: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		return res, fmt.Errorf("queue emails: %w", err)
	}

	if err := errs.ErrorOrNil(); err != nil && res.Succeeded == 0 && res.Processed > 0 {
		return res, fmt.Errorf("every email failed to render: %w", err)
	}
	logger.Info("email queue phase finished",
		"batch_id", st.batch.BatchID,
		"queued", res.Succeeded,
		"render_failures", res.Failed)
	return res, nil
}

// runCleanup prunes old rows and drops run state. Errors are logged
// and aggregated but never fail the run.
func (r *Runner) runCleanup(ctx context.Context, st *run) (PhaseResult, error) {
	var res PhaseResult
	var errs *multierror.Error

	if pruned, err := r.store.PruneJobHistory(ctx, historyRetentionDays); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("prune history: %w", err))
	} else {
		res.Processed += pruned
	}
	if err := r.store.DeleteCheckpoints(ctx, st.batch.BatchID); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("delete checkpoints: %w", err))
	}
	r.caches.Run.Reset()
	st.slates = make(map[int64]*domain.SectionSlate)

	if err := errs.ErrorOrNil(); err != nil {
		log.Printf("[Pipeline] batch=%s CLEANUP errors (ignored): %v", st.batch.BatchID, err)
	}
	res.Succeeded = res.Processed
	return res, nil
}
