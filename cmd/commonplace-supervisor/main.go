// commonplace-supervisor starts and restarts commonplace's worker
// processes: a statically configured cohort plus, once the server's
// virtual filesystem is reachable, a dynamically discovered cohort
// declared by ".processes.json" documents anywhere in that tree.
//
// Usage:
//
//	./commonplace-supervisor -config processes.json
//	./commonplace-supervisor -config processes.json -recursive -fs-root http://localhost:8787
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/commonplace-systems/commonplace/internal/fsschema"
	"github.com/commonplace-systems/commonplace/internal/supervisor"
)

// lockFilePath guards against two supervisors running against the
// same process tree at once.
const lockFilePath = "/tmp/commonplace-supervisor.lock"

// discoveryPollInterval is how often the discovered cohort is
// reconciled against the server's virtual filesystem.
const discoveryPollInterval = 2 * time.Second

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	configPath := flag.String("config", "processes.json", "static cohort configuration file")
	mqttBroker := flag.String("mqtt-broker", "", "override the configured MQTT broker address")
	disabled := flag.String("disable", "", "comma-separated process names to never start")
	only := flag.String("only", "", "run exactly this one process, ignoring the rest")
	recursive := flag.Bool("recursive", false, "after the server process is healthy, also reconcile the discovered cohort from its virtual filesystem")
	serverName := flag.String("server-process", "server", "name of the process whose /health endpoint gates recursive mode")
	fsRootURL := flag.String("fs-root", "http://localhost:8787", "base URL of the running commonplace-server, used in recursive mode")
	flag.Parse()

	lock, err := supervisor.AcquireLock(lockFilePath)
	if err != nil {
		log.Fatalf("Failed to acquire supervisor lock: %v", err)
	}
	defer lock.Release()

	cfg, err := supervisor.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var disabledNames []string
	if *disabled != "" {
		disabledNames = strings.Split(*disabled, ",")
	}

	mgr := supervisor.NewManager(cfg, *mqttBroker, disabledNames, *only)
	log.Printf("Supervisor starting (mqtt_broker=%s)", mgr.MQTTBroker())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %v, shutting down...", sig)
		cancel()
	}()

	if err := mgr.StartAll(ctx); err != nil {
		log.Fatalf("Failed to start cohort: %v", err)
	}
	log.Println("Static cohort started")

	discovered := supervisor.NewDiscoveredManager()

	if *recursive {
		healthURL := strings.TrimRight(*fsRootURL, "/") + "/health"
		if err := supervisor.PollHealth(ctx, http.DefaultClient, healthURL, 30, time.Second); err != nil {
			log.Fatalf("Server process %q never became healthy: %v", *serverName, err)
		}
		log.Printf("Server process %q healthy, starting discovery", *serverName)
		go runDiscoveryLoop(ctx, *fsRootURL, discovered)
	}

	statusTicker := time.NewTicker(3 * time.Second)
	defer statusTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			mgr.StopAll()
			_ = supervisor.RemoveStatus()
			log.Println("Supervisor stopped")
			return
		case <-statusTicker.C:
			if err := mgr.Status().MergeAndWrite(true); err != nil {
				log.Printf("Failed to write base status: %v", err)
			}
			if *recursive {
				discStatus := supervisor.NewStatus()
				discStatus.Processes = discovered.Status()
				if err := discStatus.MergeAndWrite(false); err != nil {
					log.Printf("Failed to write discovered status: %v", err)
				}
			}
		}
	}
}

// runDiscoveryLoop polls the server for its fs-root content, walks it
// for ".processes.json" documents, fetches each one, and reconciles
// the discovered cohort against the result, until ctx is cancelled.
func runDiscoveryLoop(ctx context.Context, baseURL string, discovered *supervisor.DiscoveredManager) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := strings.TrimRight(baseURL, "/")

	fsRootID, err := fetchFsRootID(ctx, client, base)
	if err != nil {
		log.Printf("supervisor: failed to read fs-root id, discovery disabled: %v", err)
		return
	}

	ticker := time.NewTicker(discoveryPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			manifests, err := discoverManifests(ctx, client, base, fsRootID)
			if err != nil {
				log.Printf("supervisor: discovery pass failed: %v", err)
				continue
			}
			discovered.Reconcile(manifests)
		}
	}
}

func fetchFsRootID(ctx context.Context, client *http.Client, base string) (string, error) {
	var body struct {
		ID string `json:"id"`
	}
	if err := getJSON(ctx, client, base+"/fs-root", &body); err != nil {
		return "", err
	}
	return body.ID, nil
}

// discoverManifests walks the fs-root schema (and, recursively, every
// document-backed directory it finds) for ".processes.json" doc
// entries, fetches each one's content, and returns them keyed by
// their resolved document id -- the same key the reconciler uses, so
// a manifest edited in place keeps its still-declared processes
// running rather than removing and re-adding them. A still-declared
// process whose command, owns or cwd changed is not restarted.
func discoverManifests(ctx context.Context, client *http.Client, base, fsRootID string) (map[string]*supervisor.ProcessesConfig, error) {
	manifests := make(map[string]*supervisor.ProcessesConfig)
	visited := make(map[string]struct{})
	if err := walkForManifests(ctx, client, base, fsRootID, manifests, visited); err != nil {
		return nil, err
	}
	return manifests, nil
}

func walkForManifests(ctx context.Context, client *http.Client, base, docID string, manifests map[string]*supervisor.ProcessesConfig, visited map[string]struct{}) error {
	if _, seen := visited[docID]; seen {
		return nil
	}
	visited[docID] = struct{}{}

	content, err := fetchDocContent(ctx, client, base, docID)
	if err != nil {
		return err
	}
	schema, err := fsschema.Parse(content)
	if err != nil {
		return nil // not a filesystem schema document, nothing to do
	}

	paths := supervisor.FindManifestPaths(docID, schema)
	for _, manifestDocID := range paths {
		manifestContent, err := fetchDocContent(ctx, client, base, manifestDocID)
		if err != nil {
			log.Printf("supervisor: failed to fetch manifest %s: %v", manifestDocID, err)
			continue
		}
		parsed, err := supervisor.ParseProcessesConfig([]byte(manifestContent))
		if err != nil {
			log.Printf("supervisor: failed to parse manifest %s: %v", manifestDocID, err)
			continue
		}
		manifests[manifestDocID] = parsed
	}

	for _, nestedDocID := range nestedDirIDs(schema) {
		if err := walkForManifests(ctx, client, base, nestedDocID, manifests, visited); err != nil {
			log.Printf("supervisor: failed to walk nested dir %s: %v", nestedDocID, err)
		}
	}
	return nil
}

// nestedDirIDs returns the node ids of every document-backed directory
// entry in schema, for recursive walking.
func nestedDirIDs(schema *fsschema.FsSchema) []string {
	var ids []string
	if schema.Root == nil {
		return ids
	}
	collectDirIDs(schema.Root, &ids)
	return ids
}

func collectDirIDs(e *fsschema.Entry, ids *[]string) {
	if e.IsDoc() {
		return
	}
	if e.NodeID != nil {
		*ids = append(*ids, *e.NodeID)
		return
	}
	for _, child := range e.Entries {
		collectDirIDs(child, ids)
	}
}

func fetchDocContent(ctx context.Context, client *http.Client, base, docID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/docs/"+docID, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: status %d", docID, resp.StatusCode)
	}
	var buf strings.Builder
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
