// ABOUTME: Canned vulnerability profiles for the demo registry.
// ABOUTME: Picks findings by repository name so reports look like real scans.

package mock

import (
	"strings"

	"github.com/jfeddern/VulnLens/internal/types"
)

func score(v float32) *types.CVSSDetails {
	return &types.CVSSDetails{ScoreV3: &v}
}

func finding(id, pkg, version, fix string, sev types.Severity, cvss float32, description string) types.VulnerabilityItem {
	return types.VulnerabilityItem{
		ID:            id,
		Package:       pkg,
		Version:       version,
		FixVersion:    fix,
		Severity:      sev,
		Description:   description,
		Links:         []string{"https://nvd.nist.gov/vuln/detail/" + id},
		PreferredCVSS: score(cvss),
	}
}

// profileFor returns the findings for repo. Names are matched by substring.
func profileFor(repo string) []types.VulnerabilityItem {
	switch {
	case strings.Contains(repo, "nginx") || strings.Contains(repo, "web"):
		return webServerVulns()
	case strings.Contains(repo, "postgres") || strings.Contains(repo, "mysql") || strings.Contains(repo, "database"):
		return databaseVulns()
	case strings.Contains(repo, "python") || strings.Contains(repo, "api"):
		return pythonAPIVulns()
	case strings.Contains(repo, "node") || strings.Contains(repo, "frontend"):
		return nodeAppVulns()
	default:
		return genericAppVulns()
	}
}

// staleVulns are added to superseded artifacts.
func staleVulns() []types.VulnerabilityItem {
	return []types.VulnerabilityItem{
		finding("CVE-2023-4911", "libc6", "2.35-0ubuntu3", "2.35-0ubuntu3.4", types.SeverityHigh, 7.8,
			"Buffer overflow in the GNU C Library dynamic loader"),
		finding("CVE-2023-38545", "curl", "7.81.0", "8.4.0", types.SeverityCritical, 9.8,
			"SOCKS5 heap buffer overflow in curl"),
	}
}

func webServerVulns() []types.VulnerabilityItem {
	return []types.VulnerabilityItem{
		finding("CVE-2024-7592", "nginx", "1.20.1", "1.20.2", types.SeverityCritical, 9.8,
			"Critical buffer overflow vulnerability in nginx HTTP/2 module"),
		finding("CVE-2024-6387", "openssh-server", "8.9p1", "8.9p1-3ubuntu0.7", types.SeverityHigh, 8.1,
			"OpenSSH remote code execution vulnerability"),
		finding("CVE-2024-2961", "libc6", "2.35-0ubuntu3.1", "2.35-0ubuntu3.8", types.SeverityMedium, 5.5,
			"Buffer overflow in GNU libc"),
	}
}

func databaseVulns() []types.VulnerabilityItem {
	return []types.VulnerabilityItem{
		finding("CVE-2024-21096", "mysql-server", "8.0.32", "8.0.37", types.SeverityHigh, 7.2,
			"MySQL Server privilege escalation vulnerability"),
		finding("CVE-2024-3094", "xz-utils", "5.4.1", "5.4.5", types.SeverityCritical, 10.0,
			"Backdoor in xz utils affecting database compression"),
		finding("CVE-2024-1234", "postgres", "14.9", "", types.SeverityLow, 2.1,
			"Minor configuration issue in database logging"),
		finding("CVE-2024-5678", "libpq", "14.9", "14.11", types.SeverityLow, 3.1,
			"Database connection pooling memory leak"),
	}
}

func pythonAPIVulns() []types.VulnerabilityItem {
	return []types.VulnerabilityItem{
		finding("CVE-2024-6232", "urllib3", "1.26.15", "1.26.19", types.SeverityMedium, 4.8,
			"Python urllib3 MITM vulnerability via IPv6-mapped IPv4 addresses"),
		finding("CVE-2024-35195", "requests", "2.28.1", "2.32.0", types.SeverityHigh, 7.5,
			"Requests library unintended credential disclosure"),
		finding("CVE-2024-9999", "setuptools", "65.5.0", "", types.SeverityLow, 2.3,
			"Python setuptools vulnerability"),
		finding("CVE-2024-8888", "flask", "2.2.2", "2.3.3", types.SeverityLow, 3.1,
			"Flask minor security issue"),
		finding("CVE-2024-7777", "pip", "22.3.1", "23.0.1", types.SeverityLow, 1.9,
			"Minor issue in pip package manager"),
	}
}

func nodeAppVulns() []types.VulnerabilityItem {
	return []types.VulnerabilityItem{
		finding("CVE-2024-21490", "@angular/core", "15.2.8", "15.2.10", types.SeverityHigh, 6.9,
			"Angular cross-site scripting vulnerability in SSR applications"),
		finding("CVE-2024-21491", "express", "4.18.2", "4.19.2", types.SeverityMedium, 5.3,
			"Express.js prototype pollution vulnerability"),
		finding("CVE-2024-1111", "node", "18.17.0", "18.19.1", types.SeverityLow, 2.8,
			"Node.js path traversal vulnerability"),
		finding("CVE-2024-2222", "npm", "9.6.7", "", types.SeverityLow, 3.2,
			"npm package vulnerability"),
		finding("CVE-2024-3333", "webpack", "5.88.2", "5.89.0", types.SeverityLow, 2.1,
			"Webpack bundler issue"),
		finding("CVE-2024-4444", "react-scripts", "5.0.1", "5.0.2", types.SeverityNegligible, 1.7,
			"React development server vulnerability"),
	}
}

func genericAppVulns() []types.VulnerabilityItem {
	return []types.VulnerabilityItem{
		finding("CVE-2024-0727", "openssl", "3.0.8", "3.0.13", types.SeverityMedium, 5.5,
			"OpenSSL denial of service vulnerability"),
		finding("CVE-2024-2398", "curl", "7.81.0", "8.7.1", types.SeverityLow, 3.4,
			"curl library heap buffer overflow"),
	}
}
