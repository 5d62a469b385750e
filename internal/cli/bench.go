package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/geckos/internal/signaling"
	"github.com/rudransh-shrivastava/geckos/internal/transport"
	"github.com/schollz/progressbar/v3"
)

var errNoDescription = errors.New("server sent no local description")

// Bench fires signaling requests at a server.
type Bench struct {
	URL         string
	Requests    int
	Concurrency int
	Token       string
	// Connect completes the WebRTC handshake for every created connection.
	Connect bool
	Timeout time.Duration
	Output  io.Writer

	client *http.Client
}

type benchResult struct {
	status    int
	elapsed   time.Duration
	connected bool
	err       error
}

// Report summarizes a bench run.
type Report struct {
	Total     int
	Statuses  map[int]int
	Errors    int
	Connected int
	Min       time.Duration
	Max       time.Duration
	Mean      time.Duration
}

func (b *Bench) Run(ctx context.Context) (Report, error) {
	if b.Requests <= 0 {
		return Report{}, errors.New("requests must be positive")
	}
	if b.Concurrency <= 0 {
		b.Concurrency = 1
	}
	if b.Timeout <= 0 {
		b.Timeout = 10 * time.Second
	}
	if b.Output == nil {
		b.Output = io.Discard
	}
	b.URL = strings.TrimSuffix(b.URL, "/")
	b.client = &http.Client{Timeout: b.Timeout}

	bar := progressbar.NewOptions(b.Requests,
		progressbar.OptionSetWriter(b.Output),
		progressbar.OptionSetDescription("handshakes"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	jobs := make(chan struct{})
	results := make(chan benchResult, b.Requests)

	var wg sync.WaitGroup
	for i := 0; i < b.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				results <- b.one(ctx)
				_ = bar.Add(1)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < b.Requests; i++ {
			select {
			case jobs <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(results)
	_ = bar.Finish()

	report := Report{Statuses: make(map[int]int)}
	var total time.Duration
	for r := range results {
		report.Total++
		if r.err != nil {
			report.Errors++
		}
		if r.status != 0 {
			report.Statuses[r.status]++
		}
		if r.connected {
			report.Connected++
		}
		total += r.elapsed
		if report.Min == 0 || r.elapsed < report.Min {
			report.Min = r.elapsed
		}
		if r.elapsed > report.Max {
			report.Max = r.elapsed
		}
	}
	if report.Total > 0 {
		report.Mean = total / time.Duration(report.Total)
	}
	return report, ctx.Err()
}

func (b *Bench) one(ctx context.Context) benchResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL+"/connections", nil)
	if err != nil {
		return benchResult{err: err}
	}
	if b.Token != "" {
		req.Header.Set("Authorization", b.Token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return benchResult{elapsed: time.Since(start), err: err}
	}
	defer resp.Body.Close()

	res := benchResult{status: resp.StatusCode, elapsed: time.Since(start)}
	if resp.StatusCode != http.StatusOK {
		return res
	}

	var created signaling.ConnectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		res.err = err
		return res
	}
	defer b.post(ctx, "/connections/"+created.ID+"/close", nil)

	if b.Connect {
		if err := b.connect(ctx, created); err != nil {
			res.err = err
		} else {
			res.connected = true
		}
	}
	return res
}

// connect answers the server's offer and waits for the data channel.
func (b *Bench) connect(ctx context.Context, created signaling.ConnectionResponse) error {
	if created.LocalDescription == nil {
		return errNoDescription
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{})
	if err != nil {
		return err
	}
	defer func() { _ = pc.Close() }()

	opened := make(chan struct{})
	var once sync.Once
	pc.OnDataChannel(func(dc *pion.DataChannel) {
		dc.OnOpen(func() { once.Do(func() { close(opened) }) })
	})

	if err := pc.SetRemoteDescription(pion.SessionDescription{
		Type: pion.SDPTypeOffer,
		SDP:  created.LocalDescription.SDP,
	}); err != nil {
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}
	<-gathered

	body, err := json.Marshal(transport.SessionDescription{SDP: pc.LocalDescription().SDP, Type: "answer"})
	if err != nil {
		return err
	}
	if err := b.post(ctx, "/connections/"+created.ID+"/remote-description", body); err != nil {
		return err
	}

	deadline := time.NewTimer(b.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-opened:
			return nil
		case <-deadline.C:
			return errors.New("data channel did not open")
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cands, err := b.candidates(ctx, created.ID)
			if err != nil {
				return err
			}
			for _, c := range cands {
				_ = pc.AddICECandidate(pion.ICECandidateInit{
					Candidate:     c.Candidate,
					SDPMid:        c.SDPMid,
					SDPMLineIndex: c.SDPMLineIndex,
				})
			}
		}
	}
}

func (b *Bench) candidates(ctx context.Context, id string) ([]transport.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.URL+"/connections/"+id+"/additional-candidates", nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("additional candidates: status %d", resp.StatusCode)
	}

	var cands []transport.Candidate
	if err := json.NewDecoder(resp.Body).Decode(&cands); err != nil {
		return nil, err
	}
	return cands, nil
}

func (b *Bench) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, b.URL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	return nil
}

func (r Report) Print(w io.Writer) {
	fmt.Fprintf(w, "requests:  %d\n", r.Total)
	fmt.Fprintf(w, "errors:    %d\n", r.Errors)
	fmt.Fprintf(w, "connected: %d\n", r.Connected)
	fmt.Fprintf(w, "latency:   min %s, mean %s, max %s\n", r.Min, r.Mean, r.Max)

	codes := make([]int, 0, len(r.Statuses))
	for code := range r.Statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "status %d: %d\n", code, r.Statuses[code])
	}
}
