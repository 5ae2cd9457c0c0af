package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/tree"
)

const defaultTreeDOT = `digraph pipeline {
	main [type=group];
	prep [type=group, threshold=0.5];
	main -> prep;
	prep -> A_Init;
	prep -> B_Scale;
	main -> C_Normalize;
	main -> D_Transform;
	main -> E_Finalize;
}`

type runPayload struct {
	Data    []float64       `json:"data"`
	Tree    json.RawMessage `json:"tree,omitempty"`
	TreeDOT string          `json:"tree_dot,omitempty"`
	Profile string          `json:"profile,omitempty"`
}

// runReply is the subset of the run response the report needs.
type runReply struct {
	Blocked bool `json:"blocked"`
	Summary struct {
		Blocks  int `json:"blocks"`
		CapHits int `json:"cap_hits"`
	} `json:"summary"`
}

type options struct {
	url      string
	rps      int
	duration time.Duration
	workers  int
	timeout  time.Duration
	profile  string
	treeFile string
	dim      int
	seed     int64
	maxP90   time.Duration
}

func main() {
	var o options
	flag.StringVar(&o.url, "url", "http://localhost:8080/run", "run endpoint URL")
	flag.IntVar(&o.rps, "rps", 50, "target requests per second")
	flag.DurationVar(&o.duration, "duration", 60*time.Second, "test duration")
	flag.IntVar(&o.workers, "workers", 50, "number of concurrent workers")
	flag.DurationVar(&o.timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.StringVar(&o.profile, "profile", "", "velocity profile to request")
	flag.StringVar(&o.treeFile, "tree", "", "tree file (JSON, or DOT for .dot/.gv); defaults to the five-stage pipeline")
	flag.IntVar(&o.dim, "dim", 8, "length of the random input vectors")
	flag.Int64Var(&o.seed, "seed", 1, "seed for the input generator")
	flag.DurationVar(&o.maxP90, "max-p90", 30*time.Millisecond, "P90 latency budget for PASS")
	flag.Parse()

	if o.rps <= 0 || o.duration <= 0 || o.workers <= 0 || o.dim <= 0 {
		fmt.Fprintln(os.Stderr, "rps, duration, workers and dim must be > 0")
		os.Exit(2)
	}

	base, err := basePayload(o)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	samples, launched := drive(o, base)
	rep := summarize(samples, o.duration)
	if rep.requests == 0 {
		fmt.Fprintln(os.Stderr, "no requests executed")
		os.Exit(1)
	}
	rep.print(os.Stdout, o, launched)

	if !rep.pass(o) {
		fmt.Println("FAIL: below target RPS, over the P90 budget, or request errors")
		os.Exit(1)
	}
	fmt.Printf("PASS: meets target RPS and P90 < %s\n", o.maxP90)
}

func basePayload(o options) (runPayload, error) {
	p := runPayload{TreeDOT: defaultTreeDOT, Profile: o.profile}
	if o.treeFile == "" {
		return p, nil
	}
	src, err := os.ReadFile(o.treeFile)
	if err != nil {
		return p, fmt.Errorf("read tree: %w", err)
	}
	// Fail fast on a tree the server would reject anyway.
	format := tree.FormatOf(o.treeFile)
	if _, err := tree.Parse(format, src); err != nil {
		return p, err
	}
	p.TreeDOT = ""
	if format == tree.FormatDOT {
		p.TreeDOT = string(src)
	} else {
		p.Tree = src
	}
	return p, nil
}

// drive paces jobs at the target rate and fans them out to the workers. Each
// job carries its own pre-encoded body so workers never share the generator.
func drive(o options, base runPayload) ([]sample, int) {
	client := &http.Client{Timeout: o.timeout}
	jobs := make(chan []byte, o.workers)
	rng := rand.New(rand.NewSource(o.seed))

	var (
		g       errgroup.Group
		mu      sync.Mutex
		samples = make([]sample, 0, o.rps*int(o.duration.Seconds())+1)
	)
	for i := 0; i < o.workers; i++ {
		g.Go(func() error {
			for body := range jobs {
				s := post(client, o.url, body)
				mu.Lock()
				samples = append(samples, s)
				mu.Unlock()
			}
			return nil
		})
	}

	ticker := time.NewTicker(time.Second / time.Duration(o.rps))
	defer ticker.Stop()
	deadline := time.Now().Add(o.duration)
	launched := 0
	for now := range ticker.C {
		if now.After(deadline) {
			break
		}
		p := base
		p.Data = randomVector(rng, o.dim)
		body, err := json.Marshal(p)
		if err != nil {
			mu.Lock()
			samples = append(samples, sample{err: err})
			mu.Unlock()
			continue
		}
		jobs <- body
		launched++
	}
	close(jobs)
	_ = g.Wait()
	return samples, launched
}

func post(client *http.Client, url string, body []byte) sample {
	start := time.Now()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return sample{latency: time.Since(start), err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	lat := time.Since(start)
	if err != nil {
		return sample{latency: lat, err: err}
	}
	defer resp.Body.Close()

	s := sample{latency: lat, status: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		var reply runReply
		if json.NewDecoder(resp.Body).Decode(&reply) == nil {
			s.blocked = reply.Blocked
			s.ruleBlocks = reply.Summary.Blocks
			s.capHit = reply.Summary.CapHits > 0
		}
	}
	return s
}

func randomVector(rng *rand.Rand, n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	return v
}
