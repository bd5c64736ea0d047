package service

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/process"

	"consultation_chat/internal/domain"
	"consultation_chat/internal/realtime"
	"consultation_chat/pkg/logger"
)

type MonitorService interface {
	Stats(ctx context.Context) domain.RealtimeStats
	// TriggerCleanup запрашивает внеочередной проход сборщика; результат виден в Stats и логах
	TriggerCleanup() bool
}

type monitorService struct {
	registry *realtime.Registry
	reaper   *realtime.Reaper
	log      logger.Logger
}

func NewMonitorService(registry *realtime.Registry, reaper *realtime.Reaper, log logger.Logger) MonitorService {
	return &monitorService{
		registry: registry,
		reaper:   reaper,
		log:      log,
	}
}

func (s *monitorService) Stats(ctx context.Context) domain.RealtimeStats {
	return domain.RealtimeStats{
		RegistryStats: s.registry.Stats(),
		ProcessMemory: s.processMemory(ctx),
		LastSweep:     s.reaper.LastSweep(),
	}
}

func (s *monitorService) processMemory(ctx context.Context) domain.ProcessMemory {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	result := domain.ProcessMemory{HeapAlloc: mem.HeapAlloc}

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.log.Warn("Failed to open process for stats", "error", err)
		return result
	}
	info, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		s.log.Warn("Failed to read process memory", "error", err)
		return result
	}

	result.RSS = info.RSS
	result.VMS = info.VMS
	return result
}

func (s *monitorService) TriggerCleanup() bool {
	scheduled := s.reaper.Trigger()
	s.log.Info("Cleanup requested", "scheduled", scheduled)
	return scheduled
}
