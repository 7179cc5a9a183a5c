package container

import (
	"fmt"
	"regexp"
	"sync"
	"time"
)

// AuditSeverity ranks a recorded security event.
type AuditSeverity int

const (
	AuditInfo AuditSeverity = iota
	AuditWarning
	AuditCritical
)

// AuditEvent is one recorded security-relevant occurrence for a
// container's plugin set.
type AuditEvent struct {
	Timestamp time.Time
	PluginID  string
	Operation string
	Details   string
	Severity  AuditSeverity
}

// AuditLogger records security events per plugin, for later inspection
// through the container's stats surface.
type AuditLogger interface {
	LogViolation(pluginID, operation, details string)
	LogSuspicious(pluginID, activity string)
	History(pluginID string) []AuditEvent
}

type auditLoggerImpl struct {
	mu     sync.RWMutex
	events map[string][]AuditEvent
}

// NewAuditLogger creates an in-memory security audit log.
func NewAuditLogger() AuditLogger {
	return &auditLoggerImpl{events: make(map[string][]AuditEvent)}
}

func (a *auditLoggerImpl) LogViolation(pluginID, operation, details string) {
	a.record(pluginID, operation, details, AuditCritical)
}

func (a *auditLoggerImpl) LogSuspicious(pluginID, activity string) {
	a.record(pluginID, "suspicious_activity", activity, AuditWarning)
}

func (a *auditLoggerImpl) record(pluginID, operation, details string, sev AuditSeverity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events[pluginID] = append(a.events[pluginID], AuditEvent{
		Timestamp: time.Now(),
		PluginID:  pluginID,
		Operation: operation,
		Details:   details,
		Severity:  sev,
	})
}

func (a *auditLoggerImpl) History(pluginID string) []AuditEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.events[pluginID]
}

// SecurityError reports that a plugin-declared name failed validation at
// install time.
type SecurityError struct {
	PluginID  string
	Operation string
	Reason    string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("plugin %q rejected at %s: %s", e.PluginID, e.Operation, e.Reason)
}

// maxSecurityViolations is the violation count at which ValidateName's
// rejection reason reports the count instead of the matched pattern.
// Every matching name is rejected either way, and Install builds a
// fresh validator per call, so the count does not carry across installs.
const maxSecurityViolations = 5

// SecurityValidator checks plugin-declared command and component names
// for dangerous patterns before they're admitted into a container's
// registries. Where the teacher's AdvancedSecurityValidator validated a
// Lua system-ID string against path-traversal/shell/network patterns,
// this validates the plugin-declared command and component names a
// Module exposes at install time — the same threat (a hostile plugin
// naming something to smuggle an escape attempt through logs or
// downstream tooling), retargeted from Lua system IDs to the
// command/component name surface this spec's plugins actually declare.
type SecurityValidator struct {
	mu             sync.Mutex
	pluginID       string
	patterns       []*regexp.Regexp
	logger         AuditLogger
	violationCount int
}

// NewSecurityValidator creates a validator scoped to one plugin id.
func NewSecurityValidator(pluginID string, logger AuditLogger) *SecurityValidator {
	return &SecurityValidator{
		pluginID: pluginID,
		logger:   logger,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\.\.+/`),
			regexp.MustCompile(`(rm|del|delete).*(-r|-rf)`),
			regexp.MustCompile(`^(exec|cmd|system)$`),
			regexp.MustCompile(`(http|tcp|udp)://`),
			regexp.MustCompile(`/etc/(passwd|shadow)`),
			regexp.MustCompile(`\.(ssh|config)`),
		},
	}
}

// ValidateName checks a plugin-declared command or component name
// against the dangerous-pattern list, rejecting the first match and
// counting it as a violation.
func (v *SecurityValidator) ValidateName(operation, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, pattern := range v.patterns {
		if pattern.MatchString(name) {
			v.violationCount++
			v.logger.LogViolation(v.pluginID, operation, fmt.Sprintf("name %q matched %s", name, pattern.String()))
			if v.violationCount >= maxSecurityViolations {
				return &SecurityError{PluginID: v.pluginID, Operation: operation,
					Reason: fmt.Sprintf("too many violations (%d)", v.violationCount)}
			}
			return &SecurityError{PluginID: v.pluginID, Operation: operation,
				Reason: fmt.Sprintf("name %q matched %s", name, pattern.String())}
		}
	}
	return nil
}

// ViolationCount reports how many violations this plugin has accrued.
func (v *SecurityValidator) ViolationCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.violationCount
}
