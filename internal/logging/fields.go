package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供站点/分类/来源字段，供代理请求日志复用。
func RequestFields(site, domain, generation, class, source string) logrus.Fields {
	return logrus.Fields{
		"site":       site,
		"domain":     domain,
		"generation": generation,
		"class":      class,
		"source":     source,
		"cache_hit":  source == "cache" || source == "fallback",
	}
}

// LifecycleFields 用于 install/activate 阶段日志。
func LifecycleFields(site, generation, phase, driver string) logrus.Fields {
	return logrus.Fields{
		"action":     "lifecycle",
		"site":       site,
		"generation": generation,
		"phase":      phase,
		"driver":     driver,
	}
}
