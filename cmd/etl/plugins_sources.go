package main

// 引入数据源插件，触发各数据源的 init() 完成注册
import (
	_ "github.com/physicalrisk/apietl/addone/source/providers/buildings"
	_ "github.com/physicalrisk/apietl/addone/source/providers/disaster_yearbook"
	_ "github.com/physicalrisk/apietl/addone/source/providers/emergency_messages"
	_ "github.com/physicalrisk/apietl/addone/source/providers/river_info"
	_ "github.com/physicalrisk/apietl/addone/source/providers/typhoon"
	_ "github.com/physicalrisk/apietl/addone/source/providers/typhoon_besttrack"
	_ "github.com/physicalrisk/apietl/addone/source/providers/vworld_geocode"
	_ "github.com/physicalrisk/apietl/addone/source/providers/wamis_stations"
	_ "github.com/physicalrisk/apietl/addone/source/providers/wamis_water_usage"
)
