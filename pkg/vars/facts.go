package vars

import (
	"context"
	"fmt"
	"strings"

	"github.com/gosible-labs/fleetforge/pkg/types"
)

// GatherFacts probes a connected host for system, network, hardware, and
// environment facts, in the same shape Ansible's `setup` module reports
// (`ansible_*` keys). Individual probe groups are best-effort: a failure in
// network/hardware/environment gathering does not abort the whole pass,
// mirroring the teacher's tolerant gathering loop.
func GatherFacts(ctx context.Context, conn types.Connection) (map[string]interface{}, error) {
	facts := make(map[string]interface{})

	systemFacts, err := gatherSystemFacts(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to gather system facts: %w", err)
	}
	mergeInto(facts, systemFacts)

	if networkFacts, err := gatherNetworkFacts(ctx, conn); err == nil {
		mergeInto(facts, networkFacts)
	}
	if hardwareFacts, err := gatherHardwareFacts(ctx, conn); err == nil {
		mergeInto(facts, hardwareFacts)
	}
	if envFacts, err := gatherEnvironmentFacts(ctx, conn); err == nil {
		mergeInto(facts, envFacts)
	}

	return facts, nil
}

func gatherSystemFacts(ctx context.Context, conn types.Connection) (map[string]interface{}, error) {
	facts := make(map[string]interface{})

	if result, err := conn.Execute(ctx, "hostname", types.ExecuteOptions{}); err == nil && result.Success {
		hostname := strings.TrimSpace(stdout(result))
		facts["ansible_hostname"] = hostname
		facts["ansible_nodename"] = hostname
		facts["inventory_hostname"] = hostname

		if parts := strings.Split(hostname, "."); len(parts) > 0 {
			facts["inventory_hostname_short"] = parts[0]
		}
	}

	if result, err := conn.Execute(ctx, "hostname -f 2>/dev/null || hostname", types.ExecuteOptions{}); err == nil && result.Success {
		facts["ansible_fqdn"] = strings.TrimSpace(stdout(result))
	}

	if result, err := conn.Execute(ctx, "uname -s", types.ExecuteOptions{}); err == nil && result.Success {
		facts["ansible_system"] = strings.TrimSpace(stdout(result))
	}
	if result, err := conn.Execute(ctx, "uname -r", types.ExecuteOptions{}); err == nil && result.Success {
		facts["ansible_kernel"] = strings.TrimSpace(stdout(result))
	}
	if result, err := conn.Execute(ctx, "uname -m", types.ExecuteOptions{}); err == nil && result.Success {
		arch := strings.TrimSpace(stdout(result))
		facts["ansible_architecture"] = arch
		facts["ansible_machine"] = arch
	}

	if distFacts, err := getDistributionFacts(ctx, conn); err == nil {
		mergeInto(facts, distFacts)
	}

	return facts, nil
}

func gatherNetworkFacts(ctx context.Context, conn types.Connection) (map[string]interface{}, error) {
	facts := make(map[string]interface{})

	if result, err := conn.Execute(ctx, "ip route get 1.1.1.1 2>/dev/null | head -1", types.ExecuteOptions{}); err == nil && result.Success {
		if routeInfo := strings.TrimSpace(stdout(result)); routeInfo != "" {
			if defaultIPv4 := parseDefaultRoute(routeInfo); len(defaultIPv4) > 0 {
				facts["ansible_default_ipv4"] = defaultIPv4
			}
		}
	}

	if result, err := conn.Execute(ctx, "ip -o link show | awk -F': ' '{print $2}' | grep -v lo", types.ExecuteOptions{}); err == nil && result.Success {
		if interfacesStr := strings.TrimSpace(stdout(result)); interfacesStr != "" {
			interfaces := strings.Split(interfacesStr, "\n")
			facts["ansible_interfaces"] = interfaces

			for _, iface := range interfaces {
				iface = strings.TrimSpace(iface)
				if iface == "" {
					continue
				}
				if ifaceInfo, err := getInterfaceInfo(ctx, conn, iface); err == nil && len(ifaceInfo) > 0 {
					facts[fmt.Sprintf("ansible_%s", iface)] = ifaceInfo
				}
			}
		}
	}

	return facts, nil
}

func gatherHardwareFacts(ctx context.Context, conn types.Connection) (map[string]interface{}, error) {
	facts := make(map[string]interface{})

	if result, err := conn.Execute(ctx, "nproc 2>/dev/null || echo 1", types.ExecuteOptions{}); err == nil && result.Success {
		if cpuCount, err := types.ConvertToInt(strings.TrimSpace(stdout(result))); err == nil {
			facts["ansible_processor_vcpus"] = cpuCount
			facts["ansible_processor_count"] = cpuCount
		}
	}

	if result, err := conn.Execute(ctx, "cat /proc/cpuinfo 2>/dev/null | grep 'model name' | head -1 | cut -d: -f2 | xargs", types.ExecuteOptions{}); err == nil && result.Success {
		if cpuModel := strings.TrimSpace(stdout(result)); cpuModel != "" {
			facts["ansible_processor"] = []string{cpuModel}
		}
	}

	if memFacts, err := getMemoryFacts(ctx, conn); err == nil {
		mergeInto(facts, memFacts)
	}

	if result, err := conn.Execute(ctx, "df -P", types.ExecuteOptions{}); err == nil && result.Success {
		if mounts := parseMounts(stdout(result)); len(mounts) > 0 {
			facts["ansible_mounts"] = mounts
		}
	}

	return facts, nil
}

func gatherEnvironmentFacts(ctx context.Context, conn types.Connection) (map[string]interface{}, error) {
	facts := make(map[string]interface{})

	if result, err := conn.Execute(ctx, "whoami", types.ExecuteOptions{}); err == nil && result.Success {
		user := strings.TrimSpace(stdout(result))
		facts["ansible_user_id"] = user
		facts["ansible_user"] = user
	}

	if result, err := conn.Execute(ctx, "id", types.ExecuteOptions{}); err == nil && result.Success {
		if userInfo := parseIdOutput(strings.TrimSpace(stdout(result))); len(userInfo) > 0 {
			mergeInto(facts, userInfo)
		}
	}

	if result, err := conn.Execute(ctx, "echo $HOME", types.ExecuteOptions{}); err == nil && result.Success {
		facts["ansible_user_dir"] = strings.TrimSpace(stdout(result))
	}

	if result, err := conn.Execute(ctx, "echo $SHELL", types.ExecuteOptions{}); err == nil && result.Success {
		facts["ansible_user_shell"] = strings.TrimSpace(stdout(result))
	}

	envVars := make(map[string]string)
	if result, err := conn.Execute(ctx, "echo $PATH", types.ExecuteOptions{}); err == nil && result.Success {
		envVars["PATH"] = strings.TrimSpace(stdout(result))
	}
	if len(envVars) > 0 {
		facts["ansible_env"] = envVars
	}

	return facts, nil
}

func getDistributionFacts(ctx context.Context, conn types.Connection) (map[string]interface{}, error) {
	facts := make(map[string]interface{})

	if result, err := conn.Execute(ctx, "cat /etc/os-release 2>/dev/null", types.ExecuteOptions{}); err == nil && result.Success {
		if distInfo := parseOSRelease(stdout(result)); len(distInfo) > 0 {
			mergeInto(facts, distInfo)
			return facts, nil
		}
	}

	releaseFiles := []string{
		"/etc/redhat-release",
		"/etc/centos-release",
		"/etc/debian_version",
		"/etc/ubuntu-release",
	}

	for _, file := range releaseFiles {
		if result, err := conn.Execute(ctx, fmt.Sprintf("cat %s 2>/dev/null", file), types.ExecuteOptions{}); err == nil && result.Success {
			if content := strings.TrimSpace(stdout(result)); content != "" {
				facts["ansible_distribution"] = guessDistributionFromFile(file, content)
				facts["ansible_distribution_version"] = extractVersionFromContent(content)
				break
			}
		}
	}

	return facts, nil
}

func getMemoryFacts(ctx context.Context, conn types.Connection) (map[string]interface{}, error) {
	facts := make(map[string]interface{})

	result, err := conn.Execute(ctx, "cat /proc/meminfo 2>/dev/null", types.ExecuteOptions{})
	if err != nil || !result.Success {
		return facts, nil
	}

	for _, line := range strings.Split(stdout(result), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		key := strings.TrimSuffix(parts[0], ":")
		value, err := types.ConvertToInt(parts[1])
		if err != nil {
			continue
		}
		switch key {
		case "MemTotal":
			facts["ansible_memtotal_mb"] = value / 1024
		case "MemFree":
			facts["ansible_memfree_mb"] = value / 1024
		case "MemAvailable":
			facts["ansible_memavailable_mb"] = value / 1024
		case "SwapTotal":
			facts["ansible_swaptotal_mb"] = value / 1024
		case "SwapFree":
			facts["ansible_swapfree_mb"] = value / 1024
		}
	}

	return facts, nil
}

func getInterfaceInfo(ctx context.Context, conn types.Connection, iface string) (map[string]interface{}, error) {
	info := make(map[string]interface{})

	result, err := conn.Execute(ctx, fmt.Sprintf("ip addr show %s 2>/dev/null", iface), types.ExecuteOptions{})
	if err != nil || !result.Success {
		return info, nil
	}

	addrOutput := stdout(result)
	info["active"] = strings.Contains(addrOutput, "state UP")

	if ipv4Info := parseIPv4FromAddr(addrOutput); len(ipv4Info) > 0 {
		info["ipv4"] = ipv4Info
	}
	if ipv6Info := parseIPv6FromAddr(addrOutput); len(ipv6Info) > 0 {
		info["ipv6"] = ipv6Info
	}
	if macAddr := parseMACFromAddr(addrOutput); macAddr != "" {
		info["macaddress"] = macAddr
	}

	return info, nil
}

// stdout extracts the stdout field the teacher's modules place in
// Result.Data, tolerating its absence.
func stdout(result *types.Result) string {
	if result == nil || result.Data == nil {
		return ""
	}
	if s, ok := result.Data["stdout"].(string); ok {
		return s
	}
	return ""
}

func mergeInto(dest, src map[string]interface{}) {
	for k, v := range src {
		dest[k] = v
	}
}

func parseDefaultRoute(routeInfo string) map[string]interface{} {
	result := make(map[string]interface{})
	parts := strings.Fields(routeInfo)
	for i, part := range parts {
		switch part {
		case "src":
			if i+1 < len(parts) {
				result["address"] = parts[i+1]
			}
		case "dev":
			if i+1 < len(parts) {
				result["interface"] = parts[i+1]
			}
		case "via":
			if i+1 < len(parts) {
				result["gateway"] = parts[i+1]
			}
		}
	}
	return result
}

func parseOSRelease(content string) map[string]interface{} {
	result := make(map[string]interface{})
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "=") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		value := strings.Trim(parts[1], "\"")
		switch parts[0] {
		case "NAME":
			result["ansible_distribution"] = value
		case "VERSION_ID":
			result["ansible_distribution_version"] = value
		case "VERSION_CODENAME":
			result["ansible_distribution_release"] = value
		case "ID":
			result["ansible_os_family"] = value
		}
	}
	return result
}

func parseMounts(dfOutput string) []map[string]interface{} {
	var mounts []map[string]interface{}
	lines := strings.Split(dfOutput, "\n")
	if len(lines) < 2 {
		return mounts
	}
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		mount := map[string]interface{}{
			"device":         fields[0],
			"size_total":     fields[1],
			"size_used":      fields[2],
			"size_available": fields[3],
			"mount":          fields[5],
		}
		if used, err := types.ConvertToInt(fields[2]); err == nil {
			if total, err := types.ConvertToInt(fields[1]); err == nil && total > 0 {
				mount["size_percent"] = (used * 100) / total
			}
		}
		mounts = append(mounts, mount)
	}
	return mounts
}

func parseIdOutput(idOutput string) map[string]interface{} {
	result := make(map[string]interface{})
	for _, part := range strings.Fields(idOutput) {
		if strings.HasPrefix(part, "uid=") {
			if uid := extractNumberFromIDString(part); uid >= 0 {
				result["ansible_user_uid"] = uid
			}
		}
		if strings.HasPrefix(part, "gid=") {
			if gid := extractNumberFromIDString(part); gid >= 0 {
				result["ansible_user_gid"] = gid
			}
		}
	}
	return result
}

func parseIPv4FromAddr(addrOutput string) map[string]interface{} {
	for _, line := range strings.Split(addrOutput, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "inet ") && !strings.Contains(line, "127.0.0.1") {
			parts := strings.Fields(line)
			if len(parts) >= 2 && strings.Contains(parts[1], "/") {
				ipParts := strings.Split(parts[1], "/")
				return map[string]interface{}{
					"address": ipParts[0],
					"netmask": cidrToNetmask(ipParts[1]),
				}
			}
		}
	}
	return nil
}

func parseIPv6FromAddr(addrOutput string) []map[string]interface{} {
	var ipv6Addrs []map[string]interface{}
	for _, line := range strings.Split(addrOutput, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "inet6 ") && !strings.Contains(line, "::1") {
			parts := strings.Fields(line)
			if len(parts) >= 2 && strings.Contains(parts[1], "/") {
				ipParts := strings.Split(parts[1], "/")
				ipv6Addrs = append(ipv6Addrs, map[string]interface{}{
					"address": ipParts[0],
					"prefix":  ipParts[1],
				})
			}
		}
	}
	return ipv6Addrs
}

func parseMACFromAddr(addrOutput string) string {
	for _, line := range strings.Split(addrOutput, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "link/ether") {
			parts := strings.Fields(line)
			for i, part := range parts {
				if part == "link/ether" && i+1 < len(parts) {
					return parts[i+1]
				}
			}
		}
	}
	return ""
}

func guessDistributionFromFile(filename, content string) string {
	switch filename {
	case "/etc/redhat-release":
		if strings.Contains(strings.ToLower(content), "centos") {
			return "CentOS"
		}
		return "RedHat"
	case "/etc/centos-release":
		return "CentOS"
	case "/etc/debian_version":
		return "Debian"
	case "/etc/ubuntu-release":
		return "Ubuntu"
	default:
		return "Unknown"
	}
}

func extractVersionFromContent(content string) string {
	for _, part := range strings.Fields(content) {
		if strings.Contains(part, ".") {
			if versionParts := strings.Split(part, "."); len(versionParts) >= 2 {
				return part
			}
		}
	}
	return ""
}

func extractNumberFromIDString(idStr string) int {
	if idx := strings.Index(idStr, "("); idx > 0 {
		numberStr := idStr[strings.Index(idStr, "=")+1 : idx]
		if number, err := types.ConvertToInt(numberStr); err == nil {
			return number
		}
	}
	return -1
}

func cidrToNetmask(cidr string) string {
	switch cidr {
	case "8":
		return "255.0.0.0"
	case "16":
		return "255.255.0.0"
	case "24":
		return "255.255.255.0"
	case "32":
		return "255.255.255.255"
	default:
		return cidr
	}
}
