package pixie

import (
	"fmt"
)

type accumulateJob struct {
	Key    SpectrumKey
	Stream []ClassifiedEvent
}

type accumulateResult struct {
	Key      SpectrumKey
	Spectrum *SpectrumArray
	Err      error
}

func accumulateWorker(id int, jobs <-chan accumulateJob, results chan<- accumulateResult,
	ctx RunContext, tStart, duration float64) {
	var current SpectrumKey
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("worker %d recovered from panic accumulating %s: %v", id, current, r)
			logger.Error(err.Error())
			results <- accumulateResult{Key: current, Err: err}
			// keep draining so the sender never blocks
			for job := range jobs {
				results <- accumulateResult{Key: job.Key, Err: fmt.Errorf("worker %d stopped", id)}
			}
		}
	}()

	for job := range jobs {
		current = job.Key
		if ctx.Verbosity > 1 {
			message := fmt.Sprintf("Worker %d accumulating %s (%d events)", id, job.Key, len(job.Stream))
			logger.Info(message, "workers")
		}
		spectrum := Accumulate(job.Key, job.Stream, ctx, tStart, duration)
		results <- accumulateResult{Key: job.Key, Spectrum: spectrum}
	}
}

// AccumulateAll builds the chunked spectrum of every (rule, channel) stream.
// Each stream is owned by a single worker, the streams themselves are only
// read.
func AccumulateAll(streams map[SpectrumKey][]ClassifiedEvent, tracker DurationTracker, ctx RunContext, numWorkers int) (*Spectra, error) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	keys := SpectrumKeys()
	jobs := make(chan accumulateJob, len(keys))
	results := make(chan accumulateResult, len(keys))

	tStart := tracker.TStart
	duration := tracker.Duration()
	for w := 1; w <= numWorkers; w++ {
		go accumulateWorker(w, jobs, results, ctx, tStart, duration)
	}

	for _, key := range keys {
		jobs <- accumulateJob{Key: key, Stream: streams[key]}
	}
	close(jobs)

	spectra := NewSpectra(tStart, duration)
	var firstErr error
	for range keys {
		result := <-results
		if result.Err != nil {
			if firstErr == nil {
				firstErr = result.Err
			}
			continue
		}
		spectra.Arrays[result.Key] = result.Spectrum
		if ctx.Verbosity > 0 {
			message := fmt.Sprintf("%s: %d rows, %d counts", result.Key, len(result.Spectrum.Rows), result.Spectrum.Events)
			logger.Info(message, "workers")
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return spectra, nil
}
