package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sentinel/console/internal/config"
	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
)

const reportConcurrency = 4

// rebootRequiredFile is written by unattended upgrades and lists the packages
// that need a reboot; it is absent when none do.
const rebootRequiredFile = "/var/run/reboot-required.pkgs"

// hostReport is what the update check found on one host.
type hostReport struct {
	host       string
	stale      []string
	packages   int
	aptOK      bool
	reboot     bool
	rebootPkgs []string
}

// Reporter builds the daily summaries.
type Reporter struct {
	cmds         *RemoteCommands
	files        ports.FileReader
	pullImages   bool
	inventory    *config.Inventory
	approvals    *ApprovalService
	notify       ports.Notifier
	tasks        ports.TaskRepository
	instances    ports.InstanceRepository
	updates      ports.UpdateRepository
	activeWindow time.Duration
	log          *logger.Logger
}

type ReporterDeps struct {
	Commands *RemoteCommands
	// Files reads reboot markers on VM hosts; nil skips the check.
	Files ports.FileReader
	// PullImages fetches each running image before the staleness check.
	PullImages   bool
	Inventory    *config.Inventory
	Approvals    *ApprovalService
	Notifier     ports.Notifier
	Tasks        ports.TaskRepository
	Instances    ports.InstanceRepository
	Updates      ports.UpdateRepository
	ActiveWindow time.Duration
}

func NewReporter(deps ReporterDeps, log *logger.Logger) *Reporter {
	return &Reporter{
		cmds:         deps.Commands,
		files:        deps.Files,
		pullImages:   deps.PullImages,
		inventory:    deps.Inventory,
		approvals:    deps.Approvals,
		notify:       deps.Notifier,
		tasks:        deps.Tasks,
		instances:    deps.Instances,
		updates:      deps.Updates,
		activeWindow: deps.ActiveWindow,
		log:          log,
	}
}

// DailyUpdateReport checks every managed host for stale containers, pending
// package upgrades and pending reboots. Stale containers are offered for
// approval on the updates channel.
func (r *Reporter) DailyUpdateReport(ctx context.Context) error {
	containerHosts := r.inventory.ContainersByHost()
	vmHosts := make(map[string]bool)
	for _, host := range r.inventory.VMs {
		vmHosts[host] = true
	}

	hostSet := make(map[string]bool)
	for host := range containerHosts {
		hostSet[host] = true
	}
	for host := range vmHosts {
		hostSet[host] = true
	}
	hosts := make([]string, 0, len(hostSet))
	for host := range hostSet {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	reports := make([]hostReport, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reportConcurrency)
	for i, host := range hosts {
		g.Go(func() error {
			rep := hostReport{host: host}
			if len(containerHosts[host]) > 0 {
				stale, res := r.cmds.StaleContainers(gctx, host, r.pullImages)
				if !res.Success {
					r.log.Warnw("update_report_docker_failed", "host", host, "error", res.Output())
				}
				sort.Strings(stale)
				rep.stale = stale
			}
			if vmHosts[host] {
				pkgs, res := r.cmds.AptUpgradable(gctx, host)
				rep.packages, rep.aptOK = len(pkgs), res.Success
				if !res.Success {
					r.log.Warnw("update_report_apt_failed", "host", host, "error", res.Output())
				}
				rep.reboot, rep.rebootPkgs = r.rebootRequired(gctx, host)
			}
			reports[i] = rep
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var actions []domain.ApprovalAction
	var aptLines, rebootLines []string
	for _, rep := range reports {
		for _, c := range rep.stale {
			actions = append(actions, domain.ApprovalAction{Target: c, Host: rep.host})
		}
		if rep.aptOK && rep.packages > 0 {
			aptLines = append(aptLines, fmt.Sprintf("%s: %d package(s)", r.hostLabel(rep.host), rep.packages))
		}
		if rep.reboot {
			line := r.hostLabel(rep.host)
			if len(rep.rebootPkgs) > 0 {
				line += ": " + strings.Join(rep.rebootPkgs, ", ")
			}
			rebootLines = append(rebootLines, line)
		}
	}
	r.log.Infow("update_report_collected",
		"hosts", len(hosts),
		"containers", len(actions),
		"apt_hosts", len(aptLines),
		"reboot_hosts", len(rebootLines),
	)

	if len(actions) == 0 && len(aptLines) == 0 && len(rebootLines) == 0 {
		return nil
	}

	msg := domain.Message{
		Title: "⬆️ Daily Update Report",
		Color: domain.ColorInfo,
	}
	if len(actions) > 0 {
		msg.Body = fmt.Sprintf("Found %d container(s) with a newer image", len(actions))
	} else {
		msg.Body = "All containers are current"
	}
	if len(aptLines) > 0 {
		msg.AddField("Package upgrades", strings.Join(aptLines, "\n"), false)
	}
	if len(rebootLines) > 0 {
		msg.AddField("Reboot required", strings.Join(rebootLines, "\n"), false)
	}

	if len(actions) == 0 {
		r.notify.Send(ctx, domain.CategoryUpdates, msg)
		return nil
	}
	_, err := r.approvals.Propose(ctx, domain.CategoryUpdates, msg, actions)
	return err
}

// rebootRequired reads the reboot marker on host over SFTP. A missing file
// means no reboot is pending; any other failure is logged and treated the
// same.
func (r *Reporter) rebootRequired(ctx context.Context, host string) (bool, []string) {
	if r.files == nil {
		return false, nil
	}
	data, err := r.files.ReadFile(ctx, domain.Standard(host), rebootRequiredFile)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		r.log.Warnw("update_report_reboot_check_failed", "host", host, "error", err)
		return false, nil
	}
	pkgs := splitLines(string(data))
	sort.Strings(pkgs)
	return true, pkgs
}

func (r *Reporter) hostLabel(host string) string {
	var names []string
	for name, h := range r.inventory.VMs {
		if h == host {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return host
	}
	sort.Strings(names)
	return strings.Join(names, "/") + " (" + host + ")"
}

// DailyTaskDigest posts queue counts, active instances and recent update
// history to the tasks channel.
func (r *Reporter) DailyTaskDigest(ctx context.Context) error {
	var (
		mu        sync.Mutex
		stats     domain.TaskCounts
		instances []domain.Instance
		history   []domain.UpdateRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := r.tasks.TaskStats(gctx)
		mu.Lock()
		stats = s
		mu.Unlock()
		return err
	})
	g.Go(func() error {
		in, err := r.instances.ActiveInstances(gctx, r.activeWindow)
		mu.Lock()
		instances = in
		mu.Unlock()
		return err
	})
	g.Go(func() error {
		h, err := r.updates.RecentUpdates(gctx, 5)
		mu.Lock()
		history = h
		mu.Unlock()
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("task digest: %w", err)
	}

	msg := domain.Message{
		Title: "📋 Daily Task Digest",
		Body:  fmt.Sprintf("%d task(s) tracked", stats.Total()),
		Color: domain.ColorInfo,
	}
	msg.AddField("Pending", fmt.Sprint(stats[domain.TaskStatusPending]), true)
	msg.AddField("In progress", fmt.Sprint(stats[domain.TaskStatusInProgress]), true)
	msg.AddField("Completed", fmt.Sprint(stats[domain.TaskStatusCompleted]), true)

	if len(instances) > 0 {
		lines := make([]string, 0, len(instances))
		for _, in := range instances {
			lines = append(lines, fmt.Sprintf("%s (%s)", in.Name, in.Status))
		}
		msg.AddField("Active instances", strings.Join(lines, "\n"), false)
	} else {
		msg.AddField("Active instances", "none", false)
	}

	if len(history) > 0 {
		lines := make([]string, 0, len(history))
		for _, u := range history {
			lines = append(lines, fmt.Sprintf("%s on %s: %s", u.ContainerName, u.Host, u.Status))
		}
		msg.AddField("Recent updates", strings.Join(lines, "\n"), false)
	}

	r.notify.Send(ctx, domain.CategoryTasks, msg)
	return nil
}
